// Package config 包含 httpsniffer 的配置管理相关功能。
// 该包定义了应用程序的配置结构和命令行参数解析器。
package config

import (
	"fmt"
	"time"

	"github.com/vearne/httpsniffer/capture"
	"github.com/vearne/httpsniffer/size"
)

// MultiStringOption 实现了可以接受多个值的字符串命令行参数。
// 它允许同一个参数名被多次指定，所有值都会被收集到一个切片中。
// 例如：--input-raw="eth0:80" --input-raw="eth0:8080"
type MultiStringOption struct {
	Params *[]string // 指向存储所有参数值的切片的指针
}

func (h *MultiStringOption) String() string {
	if h.Params == nil {
		return ""
	}
	return fmt.Sprint(*h.Params)
}

// Set gets called multiple times for each flag with same name
func (h *MultiStringOption) Set(value string) error {
	if h.Params == nil {
		return nil
	}

	*h.Params = append(*h.Params, value)
	return nil
}

// AppSettings 是主配置结构体，包含了 httpsniffer 的所有配置选项。
// 字段对应于命令行参数，包括抓包输入、输出目标、过滤器、限流器等配置。
type AppSettings struct {
	ExitAfter time.Duration `json:"exit-after"`

	// ######################## input #######################
	InputRAW            []string           `json:"input-raw"`
	InputRAWEngine      capture.EngineType `json:"input-raw-engine"`
	InputRAWBPFFilter   string             `json:"input-raw-bpf-filter"`
	InputRAWPromiscuous bool               `json:"input-raw-promisc"`
	// use the maximum snapshot length instead of interface MTU
	InputRAWSnaplen         bool          `json:"input-raw-snaplen"`
	InputRAWBufferSize      size.Size     `json:"input-raw-buffer-size"`
	InputRAWBufferTimeout   time.Duration `json:"input-raw-buffer-timeout"`
	InputRAWIgnoreInterface []string      `json:"input-raw-ignore-interface"`
	InputRAWExpire          time.Duration `json:"input-raw-expire"`
	InputRAWMaxPending      size.Size     `json:"input-raw-max-pending"`
	// emit exchanges flushed before both messages completed
	InputRAWAllowIncomplete bool `json:"input-raw-allow-incomplete"`

	// ######################## output ########################
	OutputStdout      bool `json:"output-stdout"`
	OutputStdoutColor bool `json:"output-stdout-color"`
	OutputDummy       bool `json:"output-dummy"`

	// --- output file ---
	OutputFileDir []string `json:"output-file-directory"`
	// MaxSize is the maximum size in megabytes of the log file before it gets rotated.
	OutputFileMaxSize int `json:"output-file-max-size"`
	// MaxBackups is the maximum number of old log files to retain.
	OutputFileMaxBackups int `json:"output-file-max-backups"`
	// MaxAge is the maximum number of days to retain old log files based on the
	// timestamp encoded in their filename.
	OutputFileMaxAge int `json:"output-file-max-age"`

	// --- output kafka ---
	OutputKafkaHost      string `json:"output-kafka-host"`
	OutputKafkaTopic     string `json:"output-kafka-topic"`
	OutputKafkaUseSASL   bool   `json:"output-kafka-use-sasl"`
	OutputKafkaMechanism string `json:"output-kafka-mechanism"`
	OutputKafkaUsername  string `json:"output-kafka-username"`
	OutputKafkaPassword  string `json:"output-kafka-password"`

	// --- output rocketmq ---
	OutputRocketMQNameServer []string `json:"output-rocketmq-name-server"`
	OutputRocketMQTopic      string   `json:"output-rocketmq-topic"`
	OutputRocketMQAccessKey  string   `json:"output-rocketmq-access-key"`
	OutputRocketMQSecretKey  string   `json:"output-rocketmq-secret-key"`

	// --- filter ---
	IncludeFilterURLMatch string `json:"include-filter-url-match"`
	ExcludeFilterURLMatch string `json:"exclude-filter-url-match"`

	// --- rate limit ---
	// Query per second
	RateLimitQPS int `json:"rate-limit-qps"`

	// --- other ---
	Codec string `json:"codec"`
}
