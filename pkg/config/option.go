package config

import "strings"

// Option 配置选项函数
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径，优先于名称与搜索路径
func WithConfigFile(path string) Option {
	return func(c *Config) { c.configFile = path }
}

// WithConfigName 配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(c *Config) { c.configName = name }
}

// WithConfigType 配置文件类型，默认 yaml
func WithConfigType(typ string) Option {
	return func(c *Config) { c.configType = typ }
}

// WithConfigPaths 配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) { c.configPaths = paths }
}

// WithOptional 找不到配置文件时只使用默认值与环境变量
func WithOptional(optional bool) Option {
	return func(c *Config) { c.optional = optional }
}

// WithAutoWatch 加载后监听文件变更（fsnotify）
func WithAutoWatch(watch bool) Option {
	return func(c *Config) { c.autoWatch = watch }
}

// WithOnChange 追加变更回调
func WithOnChange(fn func(*Config)) Option {
	return func(c *Config) { c.onChange = append(c.onChange, fn) }
}

// WithDefaults 默认值，键使用点号分隔，如 "hub.max_connections"
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) { c.defaults = defaults }
}

// WithEnvPrefix 环境变量前缀，如 LIVEHUB
func WithEnvPrefix(prefix string) Option {
	return func(c *Config) { c.envPrefix = prefix }
}

// WithEnvKeyReplacer 环境变量键名替换，如 "." 替换为 "_"
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.envKeyReplacer = r }
}
