package config

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load 读取配置到 out
// name 是服务名时按约定找 ./config/{name}.yaml；带 .yaml/.yml 后缀时当作文件路径
// 环境变量前缀取文件名：ledger-service -> LEDGER_SERVICE_HTTP_ADDR 覆盖 http.addr
func Load(name string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	service := name
	if ext := filepath.Ext(name); ext == ".yaml" || ext == ".yml" {
		v.SetConfigFile(name)
		service = strings.TrimSuffix(filepath.Base(name), ext)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	return v, nil
}

// LoadAndWatch Load 之后监听文件变更并热更新 out
// 热更新只覆盖 out，已经构造好的组件不受影响，需要生效的字段放在 onChange 里处理
func LoadAndWatch(name string, out interface{}, onChange ...func()) (*viper.Viper, error) {
	v, err := Load(name, out)
	if err != nil {
		return nil, err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.Unmarshal(out); err != nil {
			log.Printf("reload config %s error: %v", e.Name, err)
			return
		}
		log.Printf("config %s reloaded", e.Name)
		for _, fn := range onChange {
			fn()
		}
	})
	v.WatchConfig()
	return v, nil
}
