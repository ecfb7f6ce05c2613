package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vearne/httpsniffer/biz"
	"github.com/vearne/httpsniffer/capture"
	"github.com/vearne/httpsniffer/config"
	"github.com/vearne/httpsniffer/consts"
	"github.com/vearne/httpsniffer/http1"
	slog "github.com/vearne/simplelog"
)

const banner string = `
   __    __  __                _ ________         
  / /_  / /_/ /_____  _____   (_) __/ __/__  _____
 / __ \/ __/ __/ __ \/ ___/  / / /_/ /_/ _ \/ ___/
/ / / / /_/ /_/ /_/ (__  )  / / __/ __/  __/ /    
/_/ /_/\__/\__/ .___/____/  /_/_/ /_/  \___/_/     
             /_/                                  
`

var settings config.AppSettings
var version bool

func init() {
	settings.InputRAWEngine = capture.EnginePcap
	settings.InputRAWMaxPending = http1.DefaultMaxPending

	flag.BoolVar(&version, "version", false,
		"print version")

	flag.DurationVar(&settings.ExitAfter, "exit-after", 0, "exit after specified duration")

	// #################### input ######################
	flag.Var(&config.MultiStringOption{Params: &settings.InputRAW}, "input-raw",
		`Capture traffic from given port (use RAW sockets and require *sudo* access):
                # Capture traffic from 80 port on all interfaces
                httpsniffer --input-raw="0.0.0.0:80" --output-stdout
                # Read a capture file
                httpsniffer --input-raw="/tmp/dump.pcap:80" --output-stdout
                # Capture traffic of the pods matching a selector
                httpsniffer --input-raw="k8s://default/labelSelector/app=web:8080" --output-stdout
               `)

	flag.Var(&settings.InputRAWEngine, "input-raw-engine",
		"Intercept traffic using `libpcap` (default), `raw_socket`, `af_packet` or `pcap_file`")

	flag.StringVar(&settings.InputRAWBPFFilter, "input-raw-bpf-filter", "",
		"BPF filter to write custom expressions that can not be expressed by other flags")

	flag.BoolVar(&settings.InputRAWPromiscuous, "input-raw-promisc", false,
		"enable promiscuous mode")

	flag.BoolVar(&settings.InputRAWSnaplen, "input-raw-snaplen", false,
		"use the maximum snapshot length instead of interface MTU")

	flag.Var(&settings.InputRAWBufferSize, "input-raw-buffer-size",
		"Controls size of the OS buffer which holds packets until they dispatched. e.g. 10mb")

	flag.DurationVar(&settings.InputRAWBufferTimeout, "input-raw-buffer-timeout", 0,
		"set the pcap timeout. for immediate mode don't set this flag")

	flag.Var(&config.MultiStringOption{Params: &settings.InputRAWIgnoreInterface}, "input-raw-ignore-interface",
		"interfaces that are never captured, can be given more than once")

	flag.DurationVar(&settings.InputRAWExpire, "input-raw-expire", http1.DefaultExpire,
		"idle time after which a connection is flushed")

	flag.Var(&settings.InputRAWMaxPending, "input-raw-max-pending",
		"out-of-order bytes a connection may hold before it is dropped, 0 means no limit")

	flag.BoolVar(&settings.InputRAWAllowIncomplete, "input-raw-allow-incomplete", true,
		"output exchanges flushed before both messages completed")

	// #################### output ######################
	flag.BoolVar(&settings.OutputStdout, "output-stdout", false,
		"Just prints data to console")

	flag.BoolVar(&settings.OutputStdoutColor, "output-stdout-color", false,
		"color console output even when stdout is not a terminal")

	flag.BoolVar(&settings.OutputDummy, "output-dummy", false,
		"discard every exchange, useful to benchmark capture")

	flag.Var(&config.MultiStringOption{Params: &settings.OutputFileDir},
		"output-file-directory",
		`Write exchanges to one file per Host:
		        httpsniffer --input-raw="0.0.0.0:80" --output-file-directory="/tmp/mycapture"`)

	flag.IntVar(&settings.OutputFileMaxSize, "output-file-max-size", 500,
		"MaxSize is the maximum size in megabytes of the log file before it gets rotated.")

	flag.IntVar(&settings.OutputFileMaxBackups, "output-file-max-backups", 10,
		"MaxBackups is the maximum number of old log files to retain.")

	flag.IntVar(&settings.OutputFileMaxAge, "output-file-max-age", 30,
		`MaxAge is the maximum number of days to retain old log files 
				based on the timestamp encoded in their filename`)

	flag.StringVar(&settings.OutputKafkaHost, "output-kafka-host", "",
		`Publish exchanges, json encoded, to Kafka:
		        httpsniffer --input-raw="0.0.0.0:80" --output-kafka-host="192.168.0.1:9092,192.168.0.2:9092"`)

	flag.StringVar(&settings.OutputKafkaTopic, "output-kafka-topic", "httpsniffer", "")

	flag.BoolVar(&settings.OutputKafkaUseSASL, "output-kafka-use-sasl", false, "")

	flag.StringVar(&settings.OutputKafkaMechanism, "output-kafka-mechanism", "PLAIN", "")

	flag.StringVar(&settings.OutputKafkaUsername, "output-kafka-username", "", "")

	flag.StringVar(&settings.OutputKafkaPassword, "output-kafka-password", "", "")

	// rocketmq
	flag.Var(&config.MultiStringOption{Params: &settings.OutputRocketMQNameServer},
		"output-rocketmq-name-server",
		`Publish exchanges, json encoded, to RocketMQ:
		        httpsniffer --input-raw="0.0.0.0:80" --output-rocketmq-name-server="192.168.2.100:9876"`)

	flag.StringVar(&settings.OutputRocketMQTopic, "output-rocketmq-topic", "httpsniffer", "")

	flag.StringVar(&settings.OutputRocketMQAccessKey, "output-rocketmq-access-key", "", "")

	flag.StringVar(&settings.OutputRocketMQSecretKey, "output-rocketmq-secret-key", "", "")

	// #################### filter ######################
	flag.StringVar(&settings.IncludeFilterURLMatch, "include-filter-url-match", "",
		`only output exchanges whose Host+URL matches the regular expression`)

	flag.StringVar(&settings.ExcludeFilterURLMatch, "exclude-filter-url-match", "",
		`drop exchanges whose Host+URL matches the regular expression`)

	flag.IntVar(&settings.RateLimitQPS, "rate-limit-qps", 0,
		"maximum number of exchanges written per second, 0 means no limit")

	flag.StringVar(&settings.Codec, "codec", "console",
		"output format: console, raw or json. File output uses raw instead of console")
}

func main() {
	adjustLogLevel()

	flag.Parse()
	if version {
		fmt.Println("service: httpsniffer")
		fmt.Println("Version", consts.Version)
		fmt.Println("BuildTime", consts.BuildTime)
		fmt.Println("GitTag", consts.GitTag)
		return
	}
	fmt.Fprint(os.Stderr, banner)

	printSettings(&settings)

	filterChain, err := biz.NewFilterChain(&settings)
	if err != nil {
		slog.Fatal("create FilterChain error:%v", err)
	}
	emitter := biz.NewEmitter(filterChain, biz.NewRateLimit(&settings))
	plugins, err := biz.NewPlugins(&settings)
	if err != nil {
		slog.Fatal("create plugins error:%v", err)
	}
	if len(plugins.Inputs) == 0 || len(plugins.Outputs) == 0 {
		slog.Fatal("at least one input and one output are required")
	}

	slog.Info("plugins:%v", plugins)

	emitter.Start(plugins)
	// inputs stop on their own once a pcap file is exhausted
	inputDone := make(chan struct{})
	go func() {
		emitter.Wait()
		close(inputDone)
	}()

	closeCh := make(chan int)
	if settings.ExitAfter > 0 {
		slog.Info("Running httpsniffer for a duration of %s\n", settings.ExitAfter)

		time.AfterFunc(settings.ExitAfter, func() {
			slog.Info("run timeout %s\n", settings.ExitAfter)
			close(closeCh)
		})
	}
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	exit := 0
	select {
	case <-c:
		exit = 1
	case <-closeCh:
		exit = 0
	case <-inputDone:
		exit = 0
	}
	emitter.Close()
	os.Exit(exit)
}

func printSettings(settings *config.AppSettings) {
	slog.Info("input-raw, %v", settings.InputRAW)
	slog.Info("input-raw-engine, %v", settings.InputRAWEngine.String())
	slog.Info("input-raw-expire, %v", settings.InputRAWExpire)
	slog.Info("input-raw-max-pending, %v", settings.InputRAWMaxPending.String())
	slog.Info("input-raw-allow-incomplete, %v", settings.InputRAWAllowIncomplete)

	slog.Info("output-stdout, %v", settings.OutputStdout)
	slog.Info("output-file-directory, %v", settings.OutputFileDir)
	slog.Info("output-kafka-host, %v", settings.OutputKafkaHost)
	slog.Info("output-kafka-topic, %v", settings.OutputKafkaTopic)
	slog.Info("output-rocketmq-name-server, %v", settings.OutputRocketMQNameServer)
	slog.Info("output-rocketmq-topic, %v", settings.OutputRocketMQTopic)

	slog.Info("include-filter-url-match, %v", settings.IncludeFilterURLMatch)
	slog.Info("exclude-filter-url-match, %v", settings.ExcludeFilterURLMatch)
	slog.Info("rate-limit-qps, %v", settings.RateLimitQPS)
	slog.Info("codec, %v", settings.Codec)
}

func adjustLogLevel() {
	logLevel := os.Getenv("SIMPLE_LOG_LEVEL")
	if len(logLevel) > 0 {
		return
	}
	slog.SetLevel(slog.InfoLevel)
}
