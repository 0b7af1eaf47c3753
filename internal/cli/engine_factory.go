package cli

import (
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mazzlabs/sentinel"
	"github.com/mazzlabs/sentinel/internal/config"
	"github.com/mazzlabs/sentinel/internal/logging"
	"github.com/mazzlabs/sentinel/pkg/adapters/llamacpp"
	"github.com/mazzlabs/sentinel/pkg/adapters/memory"
	redisadapter "github.com/mazzlabs/sentinel/pkg/adapters/redis"
	"github.com/mazzlabs/sentinel/pkg/ports"
	"github.com/mazzlabs/sentinel/pkg/session"
)

// NewLogger builds the application logger from config. Debug mode
// forces the debug level regardless of the configured one; output goes
// to stderr so it never interleaves with the chat UI on stdout.
func NewLogger(cfg config.Config, debug bool) *slog.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if debug {
		level = slog.LevelDebug
	}
	if cfg.Logging.Format == "json" {
		return logging.NewJSON(level, os.Stderr)
	}
	return logging.New(level)
}

// StoreHandle bundles an opened session store with the resources
// behind it. Locker is non-nil only for the redis backend, where
// replicas sharing the store also share per-conversation locks.
type StoreHandle struct {
	Store  ports.SessionStore
	Locker ports.DistributedLocker

	close func() error
}

// Close releases the backend connection, if the store holds one.
func (h *StoreHandle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// OpenStore builds the session store selected by the config, with
// encryption and redaction layered on per the privacy settings.
func OpenStore(cfg config.Config, logger *slog.Logger) (*StoreHandle, error) {
	handle := &StoreHandle{}

	switch cfg.Session.Backend {
	case "memory":
		handle.Store = memory.NewStore()

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var storeOpts []redisadapter.Option
		if ttl := cfg.Redis.TTL.Std(); ttl > 0 {
			storeOpts = append(storeOpts, redisadapter.WithTTL(ttl))
		}
		handle.Store = redisadapter.NewFromClient(client, storeOpts...)
		handle.Locker = redisadapter.NewLocker(client, "sentinel:lock:")
		handle.close = client.Close

	case "file", "":
		opts := []session.Option{session.WithLogger(logger)}
		key, err := cfg.EncryptionKey()
		if err != nil {
			return nil, err
		}
		if key != nil {
			cipher, err := session.NewCipher(key)
			if err != nil {
				return nil, fmt.Errorf("session encryption: %w", err)
			}
			opts = append(opts, session.WithCipher(cipher))
		}
		handle.Store = session.Open(cfg.Session.Path, opts...)

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if len(cfg.Privacy.RedactPatterns) > 0 {
		redactor, err := session.NewRedactor(handle.Store, cfg.Privacy.RedactPatterns)
		if err != nil {
			_ = handle.Close()
			return nil, err
		}
		handle.Store = redactor
	}

	return handle, nil
}

// BuildEngine assembles a fully wired engine from the config: store,
// inference backend, logger, plus any caller options (hooks, metrics,
// capabilities). The caller owns the returned handle and closes it
// after the engine is done.
func BuildEngine(cfg config.Config, logger *slog.Logger, extra ...sentinel.Option) (*sentinel.Engine, *StoreHandle, error) {
	handle, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	inference := llamacpp.NewClient(llamacpp.Config{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.Inference.Timeout.Std(),
	})

	opts := []sentinel.Option{
		sentinel.WithLogger(logger),
		sentinel.WithStore(handle.Store),
		sentinel.WithInference(inference),
	}
	if handle.Locker != nil {
		opts = append(opts, sentinel.WithDistributedLocker(handle.Locker))
	}
	opts = append(opts, extra...)

	engine, err := sentinel.New(opts...)
	if err != nil {
		_ = handle.Close()
		return nil, nil, fmt.Errorf("error initializing engine: %w", err)
	}

	return engine, handle, nil
}
