package capabilities

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Stepwise-Agent/internal/capability"
	"Stepwise-Agent/internal/llm"
	"Stepwise-Agent/internal/plan"
	"Stepwise-Agent/pkg/plugin"
	"Stepwise-Agent/pkg/value"
)

func newCapability(t *testing.T, p plugin.Plugin, cfg map[string]any, resources map[string]any) plugin.Capability {
	t.Helper()
	require.NoError(t, p.Descriptor().Validate())
	handle, err := p.New(&plugin.Env{Config: cfg, Resources: resources})
	require.NoError(t, err)
	return handle
}

func call(t *testing.T, c plugin.Capability, method string, args ...value.Value) (value.Value, error) {
	t.Helper()
	return c.Invoke(context.Background(), method, args)
}

func TestBuiltinsHaveUniqueValidDescriptors(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range Builtins() {
		d := p.Descriptor()
		require.NoError(t, d.Validate(), d.Name)
		assert.False(t, seen[d.Name], "duplicate %s", d.Name)
		seen[d.Name] = true
	}
	assert.Len(t, seen, 6)
}

func TestCalculator(t *testing.T) {
	calc := newCapability(t, Calculator{}, nil, nil)

	cases := []struct {
		method string
		a, b   value.Value
		want   float64
	}{
		{"add", value.Number(4), value.Number(4), 8},
		{"subtract", value.Number(10), value.Number(4), 6},
		{"multiply", value.Number(3), value.String("4"), 12},
		{"divide", value.Number(8), value.Number(2), 4},
	}
	for _, tc := range cases {
		got, err := call(t, calc, tc.method, tc.a, tc.b)
		require.NoError(t, err, tc.method)
		n, ok := got.AsNumber()
		require.True(t, ok)
		assert.Equal(t, tc.want, n, tc.method)
	}

	_, err := call(t, calc, "divide", value.Number(1), value.Number(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = call(t, calc, "multiply", value.Number(1e308), value.Number(10))
	assert.ErrorIs(t, err, ErrNotFinite)
	_, err = call(t, calc, "subtract", value.Number(-1e308), value.Number(1e308))
	assert.ErrorIs(t, err, ErrNotFinite)

	_, err = call(t, calc, "add", value.Number(1))
	assert.Error(t, err)

	_, err = call(t, calc, "add", value.Number(1), value.String("two"))
	assert.Error(t, err)

	_, err = call(t, calc, "modulo", value.Number(1), value.Number(2))
	assert.ErrorIs(t, err, plugin.ErrUnknownMethod)
}

type recordingDisplay struct {
	results []string
	errors  []string
}

func (d *recordingDisplay) Result(text string)     { d.results = append(d.results, text) }
func (d *recordingDisplay) Error(message string)   { d.errors = append(d.errors, message) }
func (d *recordingDisplay) Success(message string) {}

type cannedPrompter struct {
	asked  []string
	answer string
}

func (p *cannedPrompter) Ask(_ context.Context, question string) (string, error) {
	p.asked = append(p.asked, question)
	return p.answer, nil
}

func TestResponseHandler(t *testing.T) {
	display := &recordingDisplay{}
	prompter := &cannedPrompter{answer: "Tokyo"}
	var prompt string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Content: "use a map"}, nil
	})
	handler := newCapability(t, ResponseHandler{}, nil, map[string]any{
		ResourceDisplay:  Display(display),
		ResourcePrompter: Prompter(prompter),
		ResourceReasoner: llm.Client(client),
	})

	_, err := call(t, handler, "displayResult", value.Number(42), value.String("The answer is"))
	require.NoError(t, err)
	_, err = call(t, handler, "displayResult", value.List(value.Number(1), value.Number(2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"🤖 The answer is 42", "🤖 Result [1,2]"}, display.results)

	_, err = call(t, handler, "displayError", value.String("boom"))
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, display.errors)

	answer, err := call(t, handler, "askUser", value.String("Where?"))
	require.NoError(t, err)
	assert.Equal(t, "Tokyo", answer.String())
	assert.Equal(t, []string{"Where?"}, prompter.asked)

	opinion, err := call(t, handler, "askExpertOpinion", value.String("routing"))
	require.NoError(t, err)
	assert.Equal(t, "use a map", opinion.String())
	assert.Contains(t, prompt, "```routing```")
}

func TestResponseHandlerWithoutResources(t *testing.T) {
	handler := newCapability(t, ResponseHandler{}, nil, nil)
	_, err := call(t, handler, "askUser", value.String("?"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ResourcePrompter)
}

func TestFileManager(t *testing.T) {
	root := t.TempDir()
	files := newCapability(t, FileManager{}, map[string]any{"root": root}, nil)

	_, err := call(t, files, "writeFile", value.String("nested/out.txt"), value.String("Hello World!"))
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(root, "nested", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(raw))

	got, err := call(t, files, "readFile", value.String("nested/out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", got.String())

	_, err = call(t, files, "readFile", value.String("missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read file missing.txt")
}

type stubPlanner struct {
	instructions string
	catalog      []plugin.Descriptor
}

func (s *stubPlanner) Generate(_ context.Context, instructions string, catalog []plugin.Descriptor) (*plan.Plan, error) {
	s.instructions = instructions
	s.catalog = catalog
	return &plan.Plan{Goal: "answer", Steps: []plan.Step{{
		Description: "add",
		Action:      &plan.Action{ModuleName: "Calculator", MethodName: "add", Parameters: []value.Value{value.Number(1), value.Number(2)}, StepNumber: 1},
	}}}, nil
}

type staticCatalog []plugin.Descriptor

func (c staticCatalog) Catalog() []plugin.Descriptor { return c }

func TestCreatePlan(t *testing.T) {
	planner := &stubPlanner{}
	creator := newCapability(t, CreatePlan{}, nil, map[string]any{
		ResourcePlanner: Planner(planner),
		ResourceCatalog: Catalog(staticCatalog{Calculator{}.Descriptor()}),
	})

	got, err := call(t, creator, "createPlan", value.String("add one and two"))
	require.NoError(t, err)
	assert.Equal(t, "add one and two", planner.instructions)
	require.Len(t, planner.catalog, 1)

	goal, ok := got.Get("goal")
	require.True(t, ok)
	assert.Equal(t, "answer", goal.String())
	steps, ok := got.Get("steps")
	require.True(t, ok)
	assert.Equal(t, 1, steps.Len())
}

func TestCreatePlanNeedsPlanner(t *testing.T) {
	creator := newCapability(t, CreatePlan{}, nil, nil)
	_, err := call(t, creator, "createPlan", value.String("x"))
	assert.Error(t, err)
}

type fakeBuilder struct {
	sourceDir string
	output    string
	err       error
}

func (b *fakeBuilder) Build(_ context.Context, sourceDir, output string) error {
	b.sourceDir, b.output = sourceDir, output
	return b.err
}

type generatedPlugin struct{}

func (generatedPlugin) Descriptor() plugin.Descriptor    { return plugin.Descriptor{Name: "Greeter"} }
func (generatedPlugin) Permissions() []plugin.Permission { return nil }
func (generatedPlugin) New(*plugin.Env) (plugin.Capability, error) {
	return plugin.Methods{"greet": func(context.Context, []value.Value) (value.Value, error) {
		return value.String("hi"), nil
	}}, nil
}

const generatedReply = "Here you go:\n```go\npackage main\n\nvar Plugin = 1\n```\ntrailing text"

func TestCreateModuleWritesBuildsAndRegisters(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "capabilities.yaml")
	builder := &fakeBuilder{}
	var prompt string
	client := llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Content: generatedReply}, nil
	})
	creator := newCapability(t, CreateModule{}, nil, map[string]any{
		ResourceReasoner: llm.Client(client),
		ResourceManifest: manifestPath,
		ResourceBuilder:  Builder(builder),
	})

	methods := value.List(
		value.Map(value.Entry{Key: "name", Value: value.String("greet")}, value.Entry{Key: "description", Value: value.String("Says hi")}),
	)
	got, err := call(t, creator, "create", value.String("Greeter"), value.String("Greets people"), methods)
	require.NoError(t, err)

	srcDir := filepath.Join(dir, "Greeter")
	sourcePath := filepath.Join(srcDir, "Greeter.go")
	assert.Equal(t, "Module Greeter created successfully at "+sourcePath, got.String())
	assert.Contains(t, prompt, "Name: Greeter")
	assert.Contains(t, prompt, "greet: Says hi")

	source, err := os.ReadFile(sourcePath)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nvar Plugin = 1\n", string(source))
	assert.Equal(t, srcDir, builder.sourceDir)
	assert.Equal(t, filepath.Join(srcDir, "Greeter.so"), builder.output)

	manifest, err := plugin.LoadManifest(manifestPath)
	require.NoError(t, err)
	entry, ok := manifest.Capabilities["Greeter"]
	require.True(t, ok)
	assert.True(t, entry.Enabled)

	reg := capability.New(manifestPath,
		capability.WithBuiltin(Calculator{}),
		capability.WithLoader(plugin.LoaderFunc(func(path string) (plugin.Plugin, error) {
			if !strings.HasSuffix(path, "Greeter.so") {
				return nil, errors.New("unexpected path " + path)
			}
			return generatedPlugin{}, nil
		})),
	)
	require.NoError(t, reg.Load(context.Background()))
	d, ok := reg.Lookup("Greeter")
	require.True(t, ok, "diagnostics: %v", reg.Diagnostics())
	assert.Equal(t, "Greets people", d.Purpose)
	_, ok = d.Method("greet")
	assert.True(t, ok)
}

func TestCreateModuleRejectsReplyWithoutCode(t *testing.T) {
	client := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "I cannot do that"}, nil
	})
	creator := newCapability(t, CreateModule{}, nil, map[string]any{
		ResourceReasoner: llm.Client(client),
		ResourceManifest: filepath.Join(t.TempDir(), "capabilities.yaml"),
		ResourceBuilder:  Builder(&fakeBuilder{}),
	})
	_, err := call(t, creator, "create", value.String("Greeter"), value.String("Greets"))
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestCreateModuleBuildFailureLeavesManifestUntouched(t *testing.T) {
	manifestPath := filepath.Join(t.TempDir(), "capabilities.yaml")
	client := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: generatedReply}, nil
	})
	creator := newCapability(t, CreateModule{}, nil, map[string]any{
		ResourceReasoner: llm.Client(client),
		ResourceManifest: manifestPath,
		ResourceBuilder:  Builder(&fakeBuilder{err: errors.New("compile error")}),
	})
	_, err := call(t, creator, "create", value.String("Greeter"), value.String("Greets"))
	require.Error(t, err)
	_, statErr := os.Stat(manifestPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateModuleRejectsBadName(t *testing.T) {
	creator := newCapability(t, CreateModule{}, nil, map[string]any{
		ResourceReasoner: llm.Client(llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
			t.Fatal("reasoner must not be called")
			return nil, nil
		})),
		ResourceManifest: filepath.Join(t.TempDir(), "capabilities.yaml"),
	})
	_, err := call(t, creator, "create", value.String("../escape"), value.String("nope"))
	assert.Error(t, err)
}

func TestMethodsFromValue(t *testing.T) {
	methods := MethodsFromValue(value.List(
		value.String("run"),
		value.Map(value.Entry{Key: "name", Value: value.String("stop")}),
		value.Map(value.Entry{Key: "description", Value: value.String("nameless")}),
		value.String(" "),
	))
	require.Len(t, methods, 2)
	assert.Equal(t, "run", methods[0].Name)
	assert.Equal(t, "stop", methods[1].Name)
	assert.Equal(t, "stop", methods[1].Description)
}

func TestExtractGoSource(t *testing.T) {
	src, ok := ExtractGoSource("```go\npackage main\n```\n```go\npackage other\n```")
	require.True(t, ok)
	assert.Equal(t, "package main", src)

	_, ok = ExtractGoSource("```python\nprint(1)\n```")
	assert.False(t, ok)
}

const articleHTML = `<!DOCTYPE html>
<html><head><title>Gardening Notes</title><meta name="description" content="How to grow tomatoes"></head>
<body><nav>menu</nav><article><h1>Gardening Notes</h1>
<p>Tomatoes need plenty of sun and regular watering to grow well through the summer months.</p>
<p>Plant them in rich soil after the last frost and stake them early so the stems stay upright.</p>
<p>Pinch off suckers to direct energy into the fruit and harvest once the skin turns deep red.</p>
<p>Water at the base of the plant in the morning, because wet leaves in the evening invite blight and other fungal trouble that spreads quickly between neighbouring plants.</p>
<p>A layer of straw mulch keeps the soil moist and cool, and it stops soil from splashing onto the lower leaves when heavy summer storms roll through the garden.</p>
<script>alert("x")</script>
</article></body></html>`

func TestModulePromptFillsTemplate(t *testing.T) {
	prompt := ModulePrompt("Greeter", "Greets people", []plugin.MethodDescriptor{{Name: "hello", Description: "Says hello"}})
	assert.Contains(t, prompt, "Methods: hello: Says hello")
	assert.Contains(t, prompt, `Name:    "Greeter"`)
	assert.Contains(t, prompt, `Purpose: "Greets people"`)

	src, ok := ExtractGoSource(prompt)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(src, "package main"))
}

func TestWebReaderExtractsArticle(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	reader := newCapability(t, WebReader{}, nil, map[string]any{ResourceHTTPClient: srv.Client()})
	got, err := call(t, reader, "read", value.String(srv.URL+"/notes"))
	require.NoError(t, err)

	text := got.String()
	assert.True(t, strings.HasPrefix(text, "TITLE: Gardening Notes\n"), text)
	assert.Contains(t, text, "-- CONTENT --")
	assert.Contains(t, text, "Tomatoes need plenty of sun")
	assert.NotContains(t, text, "alert(")
	assert.Contains(t, agent, "Mozilla/5.0")
}

func TestWebReaderTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	reader := newCapability(t, WebReader{}, map[string]any{"maxChars": "20"}, map[string]any{ResourceHTTPClient: srv.Client()})
	got, err := call(t, reader, "read", value.String(srv.URL))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got.String(), "\n... (content truncated) ..."))
}

type endless byte

func (e endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(e)
	}
	return len(p), nil
}

type countingBody struct {
	io.Reader
	n *int64
}

func (c countingBody) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	*c.n += int64(n)
	return n, err
}

func (countingBody) Close() error { return nil }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestWebReaderBoundsResponseBody(t *testing.T) {
	var consumed int64
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		page := io.MultiReader(strings.NewReader("<html><head><title>Huge</title></head><body><p>"), endless('a'))
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/html"}},
			Body:       countingBody{Reader: page, n: &consumed},
			Request:    r,
		}, nil
	})}

	reader := newCapability(t, WebReader{}, map[string]any{"maxChars": "100"}, map[string]any{ResourceHTTPClient: client})
	got, err := call(t, reader, "read", value.String("https://example.com/huge"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.String(), "TITLE: Huge\n"), got.String())
	assert.LessOrEqual(t, consumed, bodyLimit(100))
	assert.Equal(t, int64(minBodyBytes), bodyLimit(100))
	assert.Equal(t, int64(200000*bytesPerChar), bodyLimit(200000))
}

func TestWebReaderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	reader := newCapability(t, WebReader{}, nil, map[string]any{ResourceHTTPClient: srv.Client()})
	_, err := call(t, reader, "read", value.String(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")

	_, err = call(t, reader, "read", value.String("ftp://example.com"))
	assert.Error(t, err)

	_, err = WebReader{}.New(&plugin.Env{Config: map[string]any{"maxChars": "lots"}})
	assert.Error(t, err)
}
