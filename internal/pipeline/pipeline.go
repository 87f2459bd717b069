package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/forPelevin/clipper/internal/config"
	"github.com/forPelevin/clipper/internal/domain/moments"
	"github.com/forPelevin/clipper/internal/domain/ratelimit"
	"github.com/forPelevin/clipper/internal/domain/reframe"
	"github.com/forPelevin/clipper/internal/domain/selection"
	"github.com/forPelevin/clipper/internal/domain/subtitles"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/ports/adapters/asd"
	"github.com/forPelevin/clipper/internal/ports/adapters/cos"
	"github.com/forPelevin/clipper/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/clipper/internal/ports/adapters/localfs"
	"github.com/forPelevin/clipper/internal/ports/adapters/objcache"
	"github.com/forPelevin/clipper/internal/ports/adapters/openaicompat"
	"github.com/forPelevin/clipper/internal/ports/adapters/openrouter"
	"github.com/forPelevin/clipper/internal/ports/adapters/rediscache"
	"github.com/forPelevin/clipper/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/clipper/internal/runstore"
	"github.com/forPelevin/clipper/internal/types"
	"github.com/forPelevin/clipper/internal/usecase"
)

var ErrEmptySourceKey = errors.New("source key is empty")

type Config struct {
	WorkDir          string
	MaxClips         int
	SubtitleMaxWords int
	ChunkMaxWords    int
	FrameRate        int
	Logger           *slog.Logger

	FFmpegPath  string
	FFprobePath string

	WhisperBin   string
	WhisperModel string

	ASD asd.Config

	LLMProvider     string
	MaxOutputTokens int
	TokensPerMinute int
	MaxBucket       int

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string

	Storage         string
	COS             cos.Config
	CacheBucketURL  string
	LocalStorageDir string

	MomentsCache string
	RedisAddr    string
	RedisTTL     time.Duration

	// RunsDB enables the run ledger when set.
	RunsDB string
}

func (c Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("work dir is empty")
	}
	if c.MaxClips <= 0 {
		return fmt.Errorf("max clips must be > 0")
	}
	if c.SubtitleMaxWords <= 0 {
		return fmt.Errorf("subtitle max words must be > 0")
	}
	if c.ChunkMaxWords <= 0 {
		return fmt.Errorf("chunk max words must be > 0")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be > 0")
	}
	if c.TokensPerMinute <= 0 {
		return fmt.Errorf("tokens per minute must be > 0")
	}
	if c.WhisperModel == "" {
		return fmt.Errorf("whisper model path is required")
	}

	switch c.LLMProvider {
	case config.ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required")
		}
	case config.ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return errors.New("OPENROUTER_API_KEY is required")
		}
		if err := openrouter.ValidateBaseURL(c.OpenRouterBaseURL, c.OpenRouterAllowedHosts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLMProvider)
	}

	switch c.Storage {
	case config.StorageCOS:
		if c.COS.BucketURL == "" {
			return errors.New("COS bucket url is required")
		}
	case config.StorageLocal:
		if c.LocalStorageDir == "" {
			return errors.New("local storage dir is required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}

	switch c.MomentsCache {
	case config.CacheStorage:
	case config.CacheRedis:
		if c.RedisAddr == "" {
			return errors.New("redis addr is required for the redis moments cache")
		}
	default:
		return fmt.Errorf("unknown moments cache %q", c.MomentsCache)
	}
	return nil
}

// MomentIdentifier proposes ranked moments for a transcript.
type MomentIdentifier interface {
	Identify(ctx context.Context, words []types.Word) (string, error)
}

// ClipRunner turns selected moments into uploaded clips.
type ClipRunner interface {
	Run(ctx context.Context, in usecase.Input) []types.WindowStatus
}

// Deps is built once per process and shared by every request.
type Deps struct {
	Video      ports.VideoTool
	ASR        ports.ASR
	Store      ports.ObjectStore
	Identifier MomentIdentifier
	Selector   *selection.Selector
	Clips      ClipRunner
	// Recorder is optional.
	Recorder ports.RunRecorder
	Logger   *slog.Logger
}

type Pipeline struct {
	d       Deps
	workDir string
	runs    *runstore.Store
	closers []io.Closer
	log     *slog.Logger

	now   func() time.Time
	newID func() (string, error)
}

// New validates cfg and wires the production adapters.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	video := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)
	gen, model := newGenerator(cfg)

	store, cacheStore, err := newStores(cfg)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*Pipeline, error) {
		closeAll(closers)
		return nil, err
	}

	var cache ports.MomentCache
	switch cfg.MomentsCache {
	case config.CacheRedis:
		c, client, err := rediscache.Connect(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client)
		cache = c
	default:
		cache = objcache.New(cacheStore)
	}

	var runs *runstore.Store
	if cfg.RunsDB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.RunsDB), 0o755); err != nil {
			return fail(fmt.Errorf("create runs db dir: %w", err))
		}
		runs, err = runstore.NewStore(cfg.RunsDB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, runs)
	}

	limiter := ratelimit.New(cfg.TokensPerMinute, cfg.MaxBucket)
	identifier := moments.NewIdentifier(gen, limiter, moments.Config{
		Model:           model,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ChunkMaxWords:   cfg.ChunkMaxWords,
		Logger:          logger,
	})
	clips := usecase.New(usecase.Deps{
		Video:     video,
		Tracker:   asd.New(cfg.ASD),
		Store:     store,
		Reframer:  reframe.New(video, cfg.FrameRate, logger),
		Subtitles: subtitles.NewRenderer(video, cfg.SubtitleMaxWords, logger),
		Logger:    logger,
	}, usecase.Config{MaxClips: cfg.MaxClips, FrameRate: cfg.FrameRate})

	d := Deps{
		Video:      video,
		ASR:        whispercpp.New(cfg.WhisperBin, cfg.WhisperModel),
		Store:      store,
		Identifier: identifier,
		Selector:   selection.New(cache, logger),
		Clips:      clips,
		Logger:     logger,
	}
	if runs != nil {
		d.Recorder = runs
	}
	p := NewWithDeps(d, cfg.WorkDir)
	p.runs = runs
	p.closers = closers
	logger.Info("pipeline ready",
		"llm", cfg.LLMProvider, "model", model,
		"storage", cfg.Storage, "moments_cache", cfg.MomentsCache,
		"runs_db", cfg.RunsDB != "")
	return p, nil
}

// NewWithDeps builds a Pipeline over already constructed collaborators.
func NewWithDeps(d Deps, workDir string) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		d:       d,
		workDir: workDir,
		log:     logger,
		now:     time.Now,
		newID:   newRunID,
	}
}

func newGenerator(cfg Config) (ports.TextGenerator, string) {
	if cfg.LLMProvider == config.ProviderOpenRouter {
		model := cfg.OpenRouterModel
		if model == "" {
			model = openrouter.DefaultModel
		}
		return openrouter.New(cfg.OpenRouterAPIKey, model, cfg.OpenRouterBaseURL), model
	}
	model := cfg.GeminiModel
	if model == "" {
		model = moments.DefaultModel
	}
	return openaicompat.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL, model), model
}

// newStores returns the source/upload store and the store holding cached
// moments, which may live in a separate bucket.
func newStores(cfg Config) (ports.ObjectStore, ports.ObjectStore, error) {
	if cfg.Storage == config.StorageLocal {
		st, err := localfs.New(cfg.LocalStorageDir)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	st, err := cos.New(cfg.COS)
	if err != nil {
		return nil, nil, err
	}
	if cfg.CacheBucketURL == "" || cfg.CacheBucketURL == cfg.COS.BucketURL {
		return st, st, nil
	}
	cacheCfg := cfg.COS
	cacheCfg.BucketURL = cfg.CacheBucketURL
	cacheStore, err := cos.New(cacheCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("cache bucket: %w", err)
	}
	return st, cacheStore, nil
}

// Runs returns the run ledger, or nil when it is disabled.
func (p *Pipeline) Runs() *runstore.Store { return p.runs }

func (p *Pipeline) Close() error {
	return closeAll(p.closers)
}

func closeAll(cs []io.Closer) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Request struct {
	SourceKey string
	// Words, when non-nil, is used instead of transcribing the source.
	Words []types.Word
}

// Process runs one request end to end. Per-window failures are reported in
// the result; an error means the request failed before clips were cut.
func (p *Pipeline) Process(ctx context.Context, req Request) (res types.RunResult, err error) {
	key := strings.TrimSpace(req.SourceKey)
	if key == "" {
		return res, ErrEmptySourceKey
	}
	runID, err := p.newID()
	if err != nil {
		return res, fmt.Errorf("run id: %w", err)
	}
	res = types.RunResult{
		RunID:     runID,
		SourceKey: key,
		StartedAt: p.now().UTC(),
		Windows:   []types.WindowStatus{},
	}
	log := p.log.With("run_id", runID, "source_key", key)

	defer func() {
		res.FinishedAt = p.now().UTC()
		p.record(ctx, log, res, err)
	}()

	base := buildRunDir(p.workDir, key, runID, res.StartedAt)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return res, fmt.Errorf("create run dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(base); rmErr != nil {
			log.Warn("failed to remove run dir", "dir", base, "error", rmErr)
		}
	}()
	log.Info("run started", "dir", base)

	src := filepath.Join(base, sourceFileName(key))
	if err := p.d.Store.Download(ctx, key, src); err != nil {
		return res, fmt.Errorf("download %s: %w", key, err)
	}

	dur, perr := p.d.Video.ProbeDuration(ctx, src)
	if perr != nil {
		log.Warn("duration probe failed; treating duration as unknown", "error", perr)
		dur = 0
	}

	words := req.Words
	if words == nil {
		words, err = p.transcribe(ctx, src, base)
		if err != nil {
			return res, err
		}
	}
	log.Info("transcript ready", "words", len(words), "duration", dur)

	raw, cached := p.d.Selector.Cached(ctx, key)
	res.MomentsCached = cached
	if cached {
		log.Info("using cached moments")
	} else {
		raw, err = p.d.Identifier.Identify(ctx, words)
		if err != nil {
			return res, fmt.Errorf("identify moments: %w", err)
		}
	}

	selected := p.d.Selector.Select(ctx, key, raw, cached)
	if len(selected) == 0 {
		log.Warn("no usable moments; nothing to cut")
		return res, nil
	}

	res.Windows = p.d.Clips.Run(ctx, usecase.Input{
		SourceKey:  key,
		SourcePath: src,
		BaseDir:    base,
		Duration:   dur,
		Words:      words,
		Moments:    selected,
	})
	log.Info("run finished", "windows", len(res.Windows), "done", countDone(res.Windows))
	return res, nil
}

func (p *Pipeline) transcribe(ctx context.Context, src, base string) ([]types.Word, error) {
	wav := filepath.Join(base, "audio.wav")
	if err := p.d.Video.ExtractAudioMono16k(ctx, src, wav); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	words, err := p.d.ASR.Transcribe(ctx, wav, base)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return words, nil
}

// record stores the result even when ctx was cancelled mid-run.
func (p *Pipeline) record(ctx context.Context, log *slog.Logger, res types.RunResult, runErr error) {
	if p.d.Recorder == nil || res.RunID == "" {
		return
	}
	if err := p.d.Recorder.RecordRun(context.WithoutCancel(ctx), res, runErr); err != nil {
		log.Warn("failed to record run", "error", err)
	}
}

func countDone(ws []types.WindowStatus) int {
	n := 0
	for _, w := range ws {
		if w.State == types.StateDone {
			n++
		}
	}
	return n
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// sourceFileName keeps the key's extension so ffmpeg can sniff the container.
func sourceFileName(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" || len(ext) > 8 {
		ext = ".mp4"
	}
	return "input" + ext
}

func buildRunDir(workDir, sourceKey, runID string, now time.Time) string {
	name := strings.TrimSuffix(path.Base(sourceKey), path.Ext(sourceKey))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	return filepath.Join(workDir, "runs", fmt.Sprintf("%s-%s-%s", name, ts, hash(runID)[:6]))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var (
	_ ports.VideoTool      = (*ffmpeg.Adapter)(nil)
	_ ports.ASR            = (*whispercpp.Adapter)(nil)
	_ ports.SpeakerTracker = (*asd.Adapter)(nil)
	_ ports.TextGenerator  = (*openaicompat.Adapter)(nil)
	_ ports.TextGenerator  = (*openrouter.Adapter)(nil)
	_ ports.ObjectStore    = (*cos.Store)(nil)
	_ ports.ObjectStore    = (*localfs.Store)(nil)
	_ ports.MomentCache    = (*objcache.Cache)(nil)
	_ ports.MomentCache    = (*rediscache.Cache)(nil)
	_ ports.RunRecorder    = (*runstore.Store)(nil)
	_ MomentIdentifier     = (*moments.Identifier)(nil)
	_ ClipRunner           = (*usecase.Orchestrator)(nil)
)
