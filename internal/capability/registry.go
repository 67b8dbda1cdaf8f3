package capability

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	xerrors "Stepwise-Agent/internal/errors"
	"Stepwise-Agent/pkg/logger"
	"Stepwise-Agent/pkg/plugin"
)

const (
	// CodeModuleNotFound 表示计划引用了目录中不存在的能力。
	CodeModuleNotFound xerrors.Code = "MODULE_NOT_FOUND"
	// CodeModuleLoadFailed 表示能力单元存在但无法加载。
	CodeModuleLoadFailed xerrors.Code = "MODULE_LOAD_FAILED"
)

func init() {
	xerrors.Register(CodeModuleNotFound, xerrors.Attributes{Message: "module not found", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeModuleLoadFailed, xerrors.Attributes{Message: "module failed to load", Severity: xerrors.SeverityWarning})
}

// NotFound 构造 MODULE_NOT_FOUND 错误。
func NotFound(name string) error {
	return xerrors.New(CodeModuleNotFound, fmt.Sprintf("Module %s not found", name), xerrors.WithMetadata("module", name))
}

// LoadFailed 构造 MODULE_LOAD_FAILED 错误。
func LoadFailed(name string, cause error) error {
	return xerrors.Wrap(CodeModuleLoadFailed, cause, fmt.Sprintf("Module %s failed to load", name), xerrors.WithMetadata("module", name))
}

// Factory 绑定某个能力单元，每次调用 New 都返回全新的句柄。
type Factory struct {
	name       string
	descriptor plugin.Descriptor
	manager    *plugin.Manager
}

// Name 返回能力名称。
func (f Factory) Name() string { return f.name }

// Descriptor 返回能力描述。
func (f Factory) Descriptor() plugin.Descriptor { return f.descriptor }

// New 创建新的能力句柄。
func (f Factory) New() (plugin.Capability, error) {
	if f.manager == nil {
		return nil, NotFound(f.name)
	}
	return f.manager.Instantiate(f.name)
}

// Registry 维护能力名称到构造工厂的映射，是计划生成与执行共享的目录。
type Registry struct {
	manifestPath string
	builtins     []plugin.Plugin
	loader       plugin.Loader
	journal      *logger.Journal
	log          *slog.Logger

	mu          sync.RWMutex
	resources   map[string]any
	manager     *plugin.Manager
	failures    map[string]error
	diagnostics []error
	manifest    plugin.Manifest
}

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithBuiltin 注册进程内置的能力单元。
func WithBuiltin(builtins ...plugin.Plugin) Option {
	return func(r *Registry) {
		r.builtins = append(r.builtins, builtins...)
	}
}

// WithLoader 替换默认的 .so 加载器。
func WithLoader(loader plugin.Loader) Option {
	return func(r *Registry) {
		if loader != nil {
			r.loader = loader
		}
	}
}

// WithResources 向所有能力构造函数暴露宿主资源。
func WithResources(resources map[string]any) Option {
	return func(r *Registry) {
		for k, v := range resources {
			r.resources[k] = v
		}
	}
}

// WithJournal 设置加载诊断写入的日志流。
func WithJournal(journal *logger.Journal) Option {
	return func(r *Registry) {
		r.journal = journal
	}
}

// WithLogger 替换结构化日志实例。
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// New 创建能力目录，需调用 Load 后才可使用。
func New(manifestPath string, opts ...Option) *Registry {
	r := &Registry{
		manifestPath: manifestPath,
		loader:       plugin.GoPluginLoader{},
		resources:    make(map[string]any),
		failures:     make(map[string]error),
		log:          logger.Named("capability"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Provide 注册或替换一个宿主资源，下一次 Load 时生效。
func (r *Registry) Provide(key string, resource any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[key] = resource
}

// ManifestPath 返回清单文件路径。
func (r *Registry) ManifestPath() string { return r.manifestPath }

// Load 读取清单并重建工厂表。单个能力的加载失败只记录诊断，不会中断。
func (r *Registry) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 读取清单，损坏的清单退化为仅内置能力。
	var diagnostics []error
	manifest, err := plugin.LoadManifest(r.manifestPath)
	if err != nil {
		diagnostics = append(diagnostics, LoadFailed("manifest", err))
		manifest = plugin.Manifest{Capabilities: map[string]plugin.Entry{}}
	}

	r.mu.RLock()
	opts := []plugin.Option{plugin.WithLoader(r.loader)}
	for key, resource := range r.resources {
		opts = append(opts, plugin.WithResource(key, resource))
	}
	r.mu.RUnlock()

	// 构建新的工厂表。
	manager, loadErrs := plugin.Build(manifest, r.builtins, opts...)
	failures := make(map[string]error, len(loadErrs))
	for _, loadErr := range loadErrs {
		name := "unknown"
		var le *plugin.LoadError
		if stdErrors.As(loadErr, &le) && le.Name != "" {
			name = le.Name
		}
		wrapped := LoadFailed(name, loadErr)
		failures[name] = wrapped
		diagnostics = append(diagnostics, wrapped)
	}
	for _, diag := range diagnostics {
		r.log.Warn("能力加载失败", slog.Any("error", diag))
		r.journal.Printf(logger.NamespaceModule, "❌ Module error [%s]: %v", moduleOf(diag), diag)
	}
	for _, name := range manager.Names() {
		r.journal.Printf(logger.NamespaceModule, "📦 Module loaded: %s", name)
	}

	// 原子替换。
	r.mu.Lock()
	r.manager = manager
	r.failures = failures
	r.diagnostics = diagnostics
	r.manifest = manifest
	r.mu.Unlock()

	r.log.Debug("能力目录已加载", slog.Int("count", len(manager.Names())), slog.Int("failures", len(diagnostics)))
	return nil
}

// Reload 从头重建工厂表，使运行期间新生成的能力可见。
func (r *Registry) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

// Lookup 返回能力描述。
func (r *Registry) Lookup(name string) (plugin.Descriptor, bool) {
	r.mu.RLock()
	manager := r.manager
	r.mu.RUnlock()
	if manager == nil {
		return plugin.Descriptor{}, false
	}
	unit, ok := manager.Lookup(name)
	if !ok {
		return plugin.Descriptor{}, false
	}
	return unit.Descriptor, true
}

// Catalog 返回按名称排序的描述快照。
func (r *Registry) Catalog() []plugin.Descriptor {
	r.mu.RLock()
	manager := r.manager
	r.mu.RUnlock()
	if manager == nil {
		return nil
	}
	names := manager.Names()
	out := make([]plugin.Descriptor, 0, len(names))
	for _, name := range names {
		if unit, ok := manager.Lookup(name); ok {
			out = append(out, unit.Descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Diagnostics 返回最近一次加载的失败记录。
func (r *Registry) Diagnostics() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]error(nil), r.diagnostics...)
}

// Manifest 返回最近一次加载的清单。
func (r *Registry) Manifest() plugin.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifest
}

// Resolve 按名称查找工厂；未命中时重新加载一次后再查找。
// 加载失败的能力返回其 MODULE_LOAD_FAILED 错误，否则返回 MODULE_NOT_FOUND。
func (r *Registry) Resolve(ctx context.Context, name string) (Factory, error) {
	if f, ok := r.factory(name); ok {
		return f, nil
	}
	if err := r.Reload(ctx); err != nil {
		return Factory{}, err
	}
	if f, ok := r.factory(name); ok {
		return f, nil
	}
	r.mu.RLock()
	failure := r.failures[name]
	r.mu.RUnlock()
	if failure != nil {
		return Factory{}, failure
	}
	return Factory{}, NotFound(name)
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.mu.RLock()
	manager := r.manager
	r.mu.RUnlock()
	if manager == nil {
		return Factory{}, false
	}
	unit, ok := manager.Lookup(name)
	if !ok {
		return Factory{}, false
	}
	return Factory{name: name, descriptor: unit.Descriptor, manager: manager}, true
}

func moduleOf(err error) string {
	if xerr, ok := xerrors.From(err); ok {
		if name := xerr.Metadata()["module"]; name != "" {
			return name
		}
	}
	return "unknown"
}
