package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/schema"
)

// doubleTask implements Task only: out.value = in.value * 2.
type doubleTask struct {
	id string
}

func (t *doubleTask) ID() string   { return t.id }
func (t *doubleTask) Type() string { return "Double" }
func (t *doubleTask) InputSchema() *schema.Schema {
	return &schema.Schema{Type: schema.TypeObject, Properties: map[string]*schema.Schema{
		"value": {Type: schema.TypeNumber},
	}}
}
func (t *doubleTask) OutputSchema() *schema.Schema {
	return &schema.Schema{Type: schema.TypeObject, Properties: map[string]*schema.Schema{
		"value": {Type: schema.TypeNumber},
	}}
}
func (t *doubleTask) Cacheable() bool { return false }
func (t *doubleTask) Execute(ctx *RunContext, input map[string]any) (map[string]any, error) {
	v := input["value"].(float64)
	return map[string]any{"value": v * 2}, nil
}

func newTestRunner(tk Task) (*Runner, *Bus) {
	bus := NewBus()
	return &Runner{
		Task:  tk,
		State: NewState(),
		Bus:   bus,
	}, bus
}

func TestRunner_DirectExecute(t *testing.T) {
	r, _ := newTestRunner(&doubleTask{id: "d1"})
	out, err := r.Run(&RunContext{Ctx: context.Background()}, map[string]any{"value": 3.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.0, out["value"])
	assert.Equal(t, StatusCompleted, r.State.Status)
}

func TestRunner_InvalidInputIsPermanentAndFailsFast(t *testing.T) {
	tk := &doubleTask{id: "d2"}
	r, _ := newTestRunner(tk)
	r.InputSchema = schema.Compile(tk.InputSchema())

	_, err := r.Run(&RunContext{Ctx: context.Background()}, map[string]any{"value": "not-a-number"}, nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
	assert.Equal(t, StatusFailed, r.State.Status)
}

// streamingTask emits two text-delta chunks then finishes.
type streamingTask struct {
	id string
}

func (t *streamingTask) ID() string   { return t.id }
func (t *streamingTask) Type() string { return "Stream" }
func (t *streamingTask) InputSchema() *schema.Schema {
	return &schema.Schema{Type: schema.TypeObject}
}
func (t *streamingTask) OutputSchema() *schema.Schema {
	return &schema.Schema{Type: schema.TypeObject, Properties: map[string]*schema.Schema{
		"text": {Type: schema.TypeString, Stream: schema.StreamAppend},
	}}
}
func (t *streamingTask) Cacheable() bool { return false }
func (t *streamingTask) Execute(ctx *RunContext, input map[string]any) (map[string]any, error) {
	return nil, nil
}
func (t *streamingTask) ExecuteStream(ctx *RunContext, input map[string]any) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 4)
	go func() {
		defer close(ch)
		ch <- TextDeltaEvent("text", "hello")
		ch <- TextDeltaEvent("text", " world")
		ch <- FinishEvent(map[string]any{})
	}()
	return ch, nil
}

func TestRunner_StreamingAccumulation(t *testing.T) {
	tk := &streamingTask{id: "s1"}
	r, bus := newTestRunner(tk)
	r.ShouldAccumulate = true

	var chunks []string
	bus.Subscribe(func(ev Event) {
		if ev.Topic == TopicStreamChunk && ev.Stream.Kind == EventTextDelta {
			chunks = append(chunks, ev.Stream.TextDelta)
		}
	})

	out, err := r.Run(&RunContext{Ctx: context.Background()}, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out["text"])
	assert.Equal(t, []string{"hello", " world"}, chunks)
}

func TestRunner_StreamingPassThroughWhenNotAccumulating(t *testing.T) {
	tk := &streamingTask{id: "s2"}
	r, _ := newTestRunner(tk)
	r.ShouldAccumulate = false

	out, err := r.Run(&RunContext{Ctx: context.Background()}, map[string]any{}, nil)
	require.NoError(t, err)
	_, hasText := out["text"]
	assert.False(t, hasText, "pass-through finish should carry only the raw finish.data")
}

// cacheStub is a minimal OutputCache for tests.
type cacheStub struct {
	stored map[string]map[string]any
	puts   int
}

func newCacheStub() *cacheStub { return &cacheStub{stored: map[string]map[string]any{}} }

func (c *cacheStub) Get(ctx context.Context, taskType string, input map[string]any) (map[string]any, bool, error) {
	v, ok := c.stored[taskType]
	return v, ok, nil
}
func (c *cacheStub) Put(ctx context.Context, taskType string, input, output map[string]any) error {
	c.stored[taskType] = output
	c.puts++
	return nil
}

func TestRunner_CacheHitReplaysSyntheticFinish(t *testing.T) {
	tk := &doubleTask{id: "d3"}
	tk2 := &doubleTask{id: "d3"}
	cache := newCacheStub()

	r1, _ := newTestRunner(tk)
	r1.Task = &cacheableDouble{doubleTask: tk}
	r1.Cache = cache
	_, err := r1.Run(&RunContext{Ctx: context.Background()}, map[string]any{"value": 5.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.puts)

	r2, bus2 := newTestRunner(tk2)
	r2.Task = &cacheableDouble{doubleTask: tk2}
	r2.Cache = cache

	var deltas int
	var finishes int
	bus2.Subscribe(func(ev Event) {
		if ev.Topic == TopicStreamChunk && ev.Stream.Kind == EventTextDelta {
			deltas++
		}
		if ev.Topic == TopicStreamEnd {
			finishes++
		}
	})

	out, err := r2.Run(&RunContext{Ctx: context.Background()}, map[string]any{"value": 5.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, deltas)
	assert.Equal(t, 1, finishes)
	assert.Equal(t, out, cache.stored["Double"])
}

type cacheableDouble struct {
	*doubleTask
}

func (c *cacheableDouble) Cacheable() bool { return true }
