package config

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// CustomHooks keeps viper's default string conversions and adds the ones for our own field types.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		LogLevelDecodeHook(),
	)),
}

// LogLevelDecodeHook parses level names such as "debug" into logrus levels.
func LogLevelDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(log.InfoLevel) {
			return data, nil
		}
		if f.Kind() != reflect.String {
			return data, nil
		}
		level, err := log.ParseLevel(fmt.Sprintf("%v", data))
		if err != nil {
			return nil, err
		}
		return level, nil
	}
}
