package biz

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/capture"
	"github.com/vearne/httpsniffer/config"
	"github.com/vearne/httpsniffer/plugin"
	slog "github.com/vearne/simplelog"
)

// InOutPlugins struct for holding references to plugins
type InOutPlugins struct {
	Inputs  []PluginReader
	Outputs []PluginWriter
	All     []interface{}
}

// NewPlugins specify and initialize all available plugins
func NewPlugins(settings *config.AppSettings) (*InOutPlugins, error) {
	plugins := new(InOutPlugins)

	for _, item := range settings.InputRAW {
		slog.Debug("options: %q", item)
		cf := plugin.RAWInputConfig{
			PcapOptions: capture.PcapOptions{
				BPFFilter:       settings.InputRAWBPFFilter,
				BufferSize:      settings.InputRAWBufferSize,
				BufferTimeout:   settings.InputRAWBufferTimeout,
				IgnoreInterface: settings.InputRAWIgnoreInterface,
				Promiscuous:     settings.InputRAWPromiscuous,
				Snaplen:         settings.InputRAWSnaplen,
				Engine:          settings.InputRAWEngine,
			},
			Expire:     settings.InputRAWExpire,
			MaxPending: settings.InputRAWMaxPending,
		}
		if err := plugins.registerPlugin(plugin.NewRAWInput, item, cf); err != nil {
			return nil, err
		}
	}

	// ----------output----------
	if settings.OutputStdout {
		slog.Debug("NewStdOutput")
		cf := &plugin.StdOutputConfig{
			Codec:      settings.Codec,
			ForceColor: settings.OutputStdoutColor,
		}
		if err := plugins.registerPlugin(plugin.NewStdOutput, cf); err != nil {
			return nil, err
		}
	}

	for _, path := range settings.OutputFileDir {
		cf := &plugin.FileDirOutputConfig{
			MaxSize:    settings.OutputFileMaxSize,
			MaxBackups: settings.OutputFileMaxBackups,
			MaxAge:     settings.OutputFileMaxAge,
		}
		if err := plugins.registerPlugin(plugin.NewFileDirOutput, settings.Codec, path, cf); err != nil {
			return nil, err
		}
	}

	if settings.OutputKafkaHost != "" {
		cf := &plugin.OutputKafkaConfig{
			Host:  settings.OutputKafkaHost,
			Topic: settings.OutputKafkaTopic,
			SASLConfig: plugin.SASLKafkaConfig{
				UseSASL:   settings.OutputKafkaUseSASL,
				Mechanism: settings.OutputKafkaMechanism,
				Username:  settings.OutputKafkaUsername,
				Password:  settings.OutputKafkaPassword,
			},
		}
		if err := plugins.registerPlugin(plugin.NewKafkaOutput, cf); err != nil {
			return nil, err
		}
	}

	if len(settings.OutputRocketMQNameServer) > 0 {
		cf := &plugin.OutputRocketMQConfig{
			NameServers: settings.OutputRocketMQNameServer,
			Topic:       settings.OutputRocketMQTopic,
			AccessKey:   settings.OutputRocketMQAccessKey,
			SecretKey:   settings.OutputRocketMQSecretKey,
		}
		if err := plugins.registerPlugin(plugin.NewRocketMQOutput, cf); err != nil {
			return nil, err
		}
	}

	if settings.OutputDummy {
		if err := plugins.registerPlugin(plugin.NewDummyOutput); err != nil {
			return nil, err
		}
	}
	return plugins, nil
}

// Automatically detects type of plugin and initialize it.
// A constructor may return the plugin alone or the plugin and an error.
func (plugins *InOutPlugins) registerPlugin(constructor interface{}, options ...interface{}) error {
	vc := reflect.ValueOf(constructor)

	// Pre-processing options to make it work with reflect
	vo := []reflect.Value{}
	for _, oi := range options {
		vo = append(vo, reflect.ValueOf(oi))
	}

	// Calling our constructor with list of given options
	out := vc.Call(vo)
	if len(out) > 1 && !out[1].IsNil() {
		return errors.Wrapf(out[1].Interface().(error), "create plugin %v", vc.Type())
	}
	plugin := out[0].Interface()

	if r, ok := plugin.(PluginReader); ok {
		plugins.Inputs = append(plugins.Inputs, r)
	}

	if w, ok := plugin.(PluginWriter); ok {
		plugins.Outputs = append(plugins.Outputs, w)
	}
	plugins.All = append(plugins.All, plugin)
	return nil
}

func (plugins *InOutPlugins) String() string {
	return fmt.Sprintf("#####  len(Inputs):%d, len(Outputs):%d, len(All):%d   #####",
		len(plugins.Inputs), len(plugins.Outputs), len(plugins.All))
}
