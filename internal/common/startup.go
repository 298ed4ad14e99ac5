package common

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/testcluster/internal/common/config"
)

// FlagBinding makes a command line flag set the config key Key.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// LoadConfig reads the config.yaml found in defaultPath and then merges every file in
// overrideConfigs on top of it, in order. Environment variables prefixed with TESTCLUSTER_
// take precedence over both, e.g. TESTCLUSTER_NUMBROKERS=5, and flags given on the command
// line take precedence over everything.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string, flags ...FlagBinding) error {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrapf(err, "error reading base config from %s", defaultPath)
		}
		log.Infof("No base config found in %s, using built-in defaults", defaultPath)
	} else {
		log.Infof("Read base config from %s", v.ConfigFileUsed())
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TESTCLUSTER")
	v.AutomaticEnv()

	for _, binding := range flags {
		if binding.Flag == nil || !binding.Flag.Changed {
			continue
		}
		if err := v.BindPFlag(binding.Key, binding.Flag); err != nil {
			return errors.Wrapf(err, "error binding flag %s", binding.Flag.Name)
		}
	}

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return errors.Wrap(err, "error unmarshalling config")
	}
	return nil
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}
