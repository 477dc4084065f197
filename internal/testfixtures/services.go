package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/rental-broker/internal/application"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/logging"
	"github.com/example/rental-broker/internal/token"
)

// TokenSecret signs tokens issued under test.
const TokenSecret = "rental-broker-test-signing-key-0123456789"

// FastPasswordParams keep argon2id cheap enough for unit tests.
var FastPasswordParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  8,
	KeyLength:   16,
}

// HashPassword hashes with FastPasswordParams.
func HashPassword(password string) (string, error) {
	return application.CreatePasswordHash(password, FastPasswordParams)
}

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock      *Clock
	IDs        *IDGenerator
	Events     *EventRecorder
	Limiter    application.RateLimiter
	Logger     *slog.Logger
	SessionTTL time.Duration
	AdminEmail string
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults: the reference
// clock, fresh id sequences, an event recorder, no rate limiting and a
// discarding logger.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:      NewClock(time.Time{}),
		IDs:        NewIDGenerator(),
		Events:     NewEventRecorder(),
		Logger:     logging.Discard(),
		SessionTTL: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if clock != nil {
			factory.Clock = clock
		}
	}
}

// WithLimiter rate limits registration and login.
func WithLimiter(limiter application.RateLimiter) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Limiter = limiter
	}
}

// WithAdminEmail makes registrations with email administrator accounts.
func WithAdminEmail(email string) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.AdminEmail = email
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if logger != nil {
			factory.Logger = logger
		}
	}
}

// Services is one instance of every application service over a store.
type Services struct {
	Users     *application.UserService
	Auth      *application.AuthService
	Listings  *application.ListingService
	Viewings  *application.ViewingService
	Favorites *application.FavoriteService
	Tokens    *token.Issuer
}

// NewTokenIssuer signs with TokenSecret on the factory clock.
func (f *ServiceFactory) NewTokenIssuer() (*token.Issuer, error) {
	return token.NewIssuer(TokenSecret, "rental-broker-test", f.Clock.Now)
}

func (f *ServiceFactory) NewUserService(users application.UserRepository) *application.UserService {
	return application.NewUserServiceWithLogger(users, HashPassword, f.Limiter, f.Events, f.IDs.Sequence("user"), f.Clock.Now, f.Logger).
		WithAdminEmail(f.AdminEmail)
}

func (f *ServiceFactory) NewListingService(listings application.ListingRepository) *application.ListingService {
	return application.NewListingServiceWithLogger(listings, f.Events, f.IDs.Sequence("listing"), f.Clock.Now, f.Logger)
}

func (f *ServiceFactory) NewViewingService(listings application.ListingReader, viewings application.ViewingRepository) *application.ViewingService {
	return application.NewViewingServiceWithLogger(listings, viewings, f.Events, f.IDs.Sequence("viewing"), f.Clock.Now, f.Logger)
}

func (f *ServiceFactory) NewFavoriteService(favorites application.FavoriteRepository, listings application.ListingRepository) *application.FavoriteService {
	return application.NewFavoriteServiceWithLogger(favorites, listings, f.Clock.Now, f.Logger)
}

func (f *ServiceFactory) NewAuthService(credentials application.CredentialStore, sessions application.SessionRepository, tokens application.TokenIssuer) *application.AuthService {
	return application.NewAuthServiceWithLogger(credentials, sessions, tokens, application.VerifyPassword, f.Limiter, f.IDs.Sequence("session"), f.Clock.Now, f.SessionTTL, f.Logger)
}

// Build wires every service over the repositories of harness.
func (f *ServiceFactory) Build(harness *StoreHarness) (Services, error) {
	issuer, err := f.NewTokenIssuer()
	if err != nil {
		return Services{}, err
	}
	return Services{
		Users:     f.NewUserService(harness.Users),
		Auth:      f.NewAuthService(harness.Users, harness.Sessions, issuer),
		Listings:  f.NewListingService(harness.Listings),
		Viewings:  f.NewViewingService(harness.Listings, harness.Viewings),
		Favorites: f.NewFavoriteService(harness.Favorites, harness.Listings),
		Tokens:    issuer,
	}, nil
}

// EventRecorder captures published domain events.
type EventRecorder struct {
	*events.Recorder
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{Recorder: events.NewRecorder()}
}

// OfType returns the recorded events of type t in publish order.
func (r *EventRecorder) OfType(t events.Type) []events.Event {
	var out []events.Event
	for _, event := range r.Events() {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

// Last returns the most recently published event.
func (r *EventRecorder) Last() (events.Event, bool) {
	recorded := r.Events()
	if len(recorded) == 0 {
		return events.Event{}, false
	}
	return recorded[len(recorded)-1], true
}
