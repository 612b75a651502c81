package container

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/decisions"
	decisionstore "github.com/serroba/admission/internal/decisions/store"
	"github.com/serroba/admission/internal/handlers"
	"github.com/serroba/admission/internal/health"
	"github.com/serroba/admission/internal/messaging"
	"github.com/serroba/admission/internal/middleware"
	"github.com/serroba/admission/internal/ratelimit"
	"github.com/serroba/admission/internal/store"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// Options configures both binaries. The server reads them from flags or SERVICE_* variables,
// the consumer from the environment.
type Options struct {
	Port             int    `default:"8888"                help:"Port to listen on"                                  short:"p"`
	RedisAddr        string `default:"localhost:6379"      help:"Redis server address"                               short:"r"`
	RedisPassword    string `default:""                    help:"Redis password"`
	RedisDB          int    `default:"0"                   help:"Redis database number"`
	StoreTimeoutMS   int    `default:"500"                 help:"Upper bound for one store call in milliseconds"`
	LimitPerSecond   int    `default:"10"                  help:"Admitted requests per second of window"             short:"l"`
	CapacityMode     string `default:"per-window"          help:"Capacity mode: per-window or absolute"`
	LeakStrategy     string `default:"range"               help:"Leaky bucket trim: range or position"`
	APIPolicy        string `default:"scoped"              help:"API guard: scoped (per-scope policy) or single (one limit for every route)"`
	APIAlgorithm     string `default:"sliding-window"      help:"Algorithm guarding the API itself"`
	APIWindowSeconds int    `default:"60"                  help:"Window for the API's own rate limit in seconds"`
	LogFormat        string `default:"json"                help:"Log format: json or console"`
	DatabaseURL      string `default:""                    help:"PostgreSQL URL for the decision log, empty to only log decisions"`
	ConsumerGroup    string `default:"admission-decisions" help:"Redis stream consumer group"`
}

// LimiterConfig returns the engine configuration described by the options.
func (o *Options) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		LimitPerSecond: int64(o.LimitPerSecond),
		Capacity:       ratelimit.CapacityMode(o.CapacityMode),
		Leak:           ratelimit.LeakStrategy(o.LeakStrategy),
	}
}

// LoggerPackage provides the application logger.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "console" {
			return zap.NewDevelopment()
		}

		return zap.NewProduction()
	})
}

// RedisPackage provides the store adapter every limiter and stream shares.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*store.Redis, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		return store.Open(ctx, store.Config{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		},
			store.WithTimeout(time.Duration(opts.StoreTimeoutMS)*time.Millisecond),
			store.WithLogger(logger.Named("store")),
		)
	})
}

// RateLimitPackage provides one limiter per algorithm and the leaky bucket drainer.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*ratelimit.Set, error) {
		opts := do.MustInvoke[*Options](i)
		s := do.MustInvoke[*store.Redis](i)

		return ratelimit.NewSet(s, opts.LimiterConfig())
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.Drainer, error) {
		set := do.MustInvoke[*ratelimit.Set](i)
		logger := do.MustInvoke[*zap.Logger](i)

		return ratelimit.NewDrainer(set.LeakyBucket(), logger.Named("drainer")), nil
	})
}

// PublisherGroupPackage provides the decision publisher over Redis streams.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		s := do.MustInvoke[*store.Redis](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := messaging.NewRedisPublisher(s.Client(), logger)
		if err != nil {
			return nil, err
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(injector, func(i *do.Injector) (messaging.Publish[decisions.Decision], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return messaging.NewPublishFunc[decisions.Decision](group.Publisher(), decisions.TopicDecided), nil
	})
}

// PostgresPackage provides the decision log. Without a database URL decisions are only logged.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (decisions.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.DatabaseURL == "" {
			logger.Info("no database configured, decisions are logged only")

			return decisionstore.NewNoop(logger), nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		pg, err := decisionstore.Open(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}

		return pg, nil
	})
}

// HTTPPackage provides the router and the API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		s := do.MustInvoke[*store.Redis](i)
		set := do.MustInvoke[*ratelimit.Set](i)
		drainer := do.MustInvoke[*ratelimit.Drainer](i)
		publish := do.MustInvoke[messaging.Publish[decisions.Decision]](i)

		apiAlgorithm, err := ratelimit.ParseAlgorithm(opts.APIAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("api algorithm: %w", err)
		}

		api := humachi.New(router, huma.DefaultConfig("Admission", "1.0.0"))

		guard, err := apiGuard(api, opts, set, apiAlgorithm, logger)
		if err != nil {
			return nil, err
		}

		api.UseMiddleware(middleware.RequestMeta(api), guard)

		handlers.RegisterRoutes(api, handlers.NewAdmissionHandler(set, set.LeakyBucket(), publish, logger,
			handlers.WithWatcher(drainer)))

		decisionLog, err := do.Invoke[decisions.Store](i)
		if err != nil {
			return nil, err
		}

		checks := []health.Check{{Name: "redis", Checker: s}}

		if checker, ok := decisionLog.(health.Checker); ok {
			checks = append(checks, health.Check{Name: "postgres", Checker: checker})
		}

		health.RegisterRoutes(api, health.NewHandler(checks...))

		if counter, ok := decisionLog.(decisions.Counter); ok {
			handlers.RegisterSummaryRoutes(api, handlers.NewSummaryHandler(counter, clock.NewSystem(), logger))
		}

		return api, nil
	})
}

// apiGuard builds the middleware that rate limits the API's own callers.
func apiGuard(
	api huma.API,
	opts *Options,
	set *ratelimit.Set,
	alg ratelimit.Algorithm,
	logger *zap.Logger,
) (func(huma.Context, func(huma.Context)), error) {
	window := time.Duration(opts.APIWindowSeconds) * time.Second

	switch opts.APIPolicy {
	case "", "scoped":
		policy := middleware.NewPolicyBuilder().
			AddLimit(middleware.ScopeGlobal, alg, window).
			Build()

		return middleware.PolicyRateLimiter(api, middleware.NewPolicyLimiter(set, policy),
			middleware.NewOperationScopeResolver(), logger), nil
	case "single":
		limiter, err := set.Limiter(alg)
		if err != nil {
			return nil, fmt.Errorf("api algorithm: %w", err)
		}

		return middleware.RateLimiter(api, limiter, window), nil
	default:
		return nil, fmt.Errorf("unknown api policy %q", opts.APIPolicy)
	}
}

// ConsumerGroupPackage provides the consumers of the decision stream: every decision is
// persisted, and admitted leaky bucket identities are handed to the drainer.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		s := do.MustInvoke[*store.Redis](i)
		logger := do.MustInvoke[*zap.Logger](i)
		decisionLog := do.MustInvoke[decisions.Store](i)
		drainer := do.MustInvoke[*ratelimit.Drainer](i)

		subscriber, err := messaging.NewRedisSubscriber(s.Client(), opts.ConsumerGroup, logger)
		if err != nil {
			return nil, err
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer(subscriber, decisions.TopicDecided,
			messaging.Chain(decisions.Persist(decisionLog), decisions.WatchLeaks(drainer)), logger))

		return group, nil
	})
}
