package conf

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"modtile/internal/tile"
)

// DefaultModuleName 统计地址默认使用的模块名
const DefaultModuleName = "mod_tile_rs"

// 非图层的保留配置段
var reservedSections = map[string]struct{}{
	"server":  {},
	"renderd": {},
	"output":  {},
	"mapnik":  {},
}

// LayerConfig 图层配置, 加载后只读
type LayerConfig struct {
	Name              tile.LayerName
	BaseURL           string
	Description       string
	Attribution       string
	MinZoom           int32
	MaxZoom           int32
	FileExtension     string
	MimeType          string
	HostName          string
	ParametersAllowed bool
}

// RenderdConfig 渲染服务配置
type RenderdConfig struct {
	StoreURI      string
	IPCURI        string
	RenderTimeout time.Duration
}

// ServerConfig 服务配置
type ServerConfig struct {
	Listen          string
	CacheSize       int
	ShutdownTimeout time.Duration
	StatsQueue      int
}

// OutputConfig 日志输出配置
type OutputConfig struct {
	LogDir         string
	LogLevel       string
	OutputTerminal bool
}

// ModuleConfig 模块配置
type ModuleConfig struct {
	ModuleName string
	Layers     map[tile.LayerName]*LayerConfig
	Renderd    RenderdConfig
	Server     ServerConfig
	Output     OutputConfig
}

// Layer returns the configuration of the named layer.
func (c *ModuleConfig) Layer(name tile.LayerName) (*LayerConfig, bool) {
	l, ok := c.Layers[name]
	return l, ok
}

// LayerNames returns the configured layer names sorted alphabetically.
func (c *ModuleConfig) LayerNames() []tile.LayerName {
	names := make([]tile.LayerName, 0, len(c.Layers))
	for n := range c.Layers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Load 读取 INI 配置文件
func Load(cfgFile string) (*ModuleConfig, error) {
	if cfgFile == "" {
		cfgFile = "conf/renderd.conf"
	}
	if _, err := os.Stat(cfgFile); err != nil {
		return nil, fmt.Errorf("config file(%s) not exist: %w", cfgFile, err)
	}

	v := viper.New()
	v.SetConfigType("ini")
	v.SetConfigFile(cfgFile)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("modtile")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file(%s) error: %w", v.ConfigFileUsed(), err)
	}
	sections, err := sectionNames(cfgFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v, sections...)
}

// sectionNames 读取配置段的原始名字, viper 的键名都是小写
func sectionNames(cfgFile string) ([]string, error) {
	f, err := ini.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("read config file(%s) sections error: %w", cfgFile, err)
	}
	names := make([]string, 0, len(f.Sections()))
	for _, name := range f.SectionStrings() {
		if name != ini.DefaultSection {
			names = append(names, name)
		}
	}
	return names, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.module_name", DefaultModuleName)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.cache_size", 256)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.stats_queue", 1024)
	v.SetDefault("renderd.store_uri", "/var/cache/renderd/tiles")
	v.SetDefault("renderd.ipc_uri", "")
	v.SetDefault("renderd.render_timeout", "5s")
	v.SetDefault("output.log_level", "info")
	v.SetDefault("output.output_terminal", true)
}

// FromViper builds a ModuleConfig from already read settings. sections are the
// section names as written in the file; layer names keep that case, since they
// name the style directory and the renderd style. Without them the lowercased
// viper keys are used.
func FromViper(v *viper.Viper, sections ...string) (*ModuleConfig, error) {
	c := &ModuleConfig{
		ModuleName: v.GetString("server.module_name"),
		Layers:     make(map[tile.LayerName]*LayerConfig),
		Renderd: RenderdConfig{
			StoreURI:      v.GetString("renderd.store_uri"),
			IPCURI:        v.GetString("renderd.ipc_uri"),
			RenderTimeout: v.GetDuration("renderd.render_timeout"),
		},
		Server: ServerConfig{
			Listen:          v.GetString("server.listen"),
			CacheSize:       v.GetInt("server.cache_size"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			StatsQueue:      v.GetInt("server.stats_queue"),
		},
		Output: OutputConfig{
			LogDir:         v.GetString("output.log_dir"),
			LogLevel:       v.GetString("output.log_level"),
			OutputTerminal: v.GetBool("output.output_terminal"),
		},
	}
	if c.ModuleName == "" {
		return nil, errors.New("server.module_name must not be empty")
	}

	original := make(map[string]string, len(sections))
	for _, name := range sections {
		lower := strings.ToLower(name)
		if prev, ok := original[lower]; ok && prev != name {
			return nil, fmt.Errorf("sections [%s] and [%s] differ only in case", prev, name)
		}
		original[lower] = name
	}

	for section, value := range v.AllSettings() {
		if _, ok := reservedSections[section]; ok {
			continue
		}
		if _, ok := value.(map[string]interface{}); !ok {
			continue
		}
		name := section
		if orig, ok := original[section]; ok {
			name = orig
		}
		layer, err := layerFromViper(v, section, name)
		if err != nil {
			return nil, err
		}
		c.Layers[layer.Name] = layer
	}
	return c, nil
}

func layerFromViper(v *viper.Viper, section, original string) (*LayerConfig, error) {
	name, err := tile.MakeLayerName(original)
	if err != nil {
		return nil, fmt.Errorf("layer [%s]: %w", original, err)
	}
	key := func(k string) string { return section + "." + k }

	v.SetDefault(key("minzoom"), 0)
	v.SetDefault(key("maxzoom"), 20)
	v.SetDefault(key("type"), tile.PNG)

	layer := &LayerConfig{
		Name:        name,
		BaseURL:     strings.TrimRight(v.GetString(key("uri")), "/"),
		Description: v.GetString(key("description")),
		Attribution: v.GetString(key("attribution")),
		MinZoom:     v.GetInt32(key("minzoom")),
		MaxZoom:     v.GetInt32(key("maxzoom")),
		HostName:    v.GetString(key("host")),
	}
	if layer.BaseURL == "" {
		return nil, fmt.Errorf("layer [%s]: uri must not be empty", original)
	}
	if layer.MinZoom < 0 || layer.MinZoom > layer.MaxZoom || layer.MaxZoom > tile.MaxZoomServer {
		return nil, fmt.Errorf("layer [%s]: invalid zoom range %d-%d", original, layer.MinZoom, layer.MaxZoom)
	}

	// type = "<extension> <mime type>", or just the extension of a known format
	fields := strings.Fields(v.GetString(key("type")))
	switch len(fields) {
	case 1:
		mimeType, ok := tile.MimeType(fields[0])
		if !ok {
			return nil, fmt.Errorf("layer [%s]: type must be \"<extension> <mime type>\", no default mime type for %q", original, fields[0])
		}
		layer.FileExtension, layer.MimeType = fields[0], mimeType
	case 2:
		layer.FileExtension, layer.MimeType = fields[0], fields[1]
	default:
		return nil, fmt.Errorf("layer [%s]: type must be \"<extension> <mime type>\"", original)
	}

	style := strings.TrimSpace(v.GetString(key("parameterize_style")))
	layer.ParametersAllowed = style != "" && !strings.EqualFold(style, "false")
	return layer, nil
}
