// Package server exposes the turn orchestrator over HTTP (spec.md §6):
// POST /chat/interact and POST /chat/disambiguate, using the standard
// {success, data, message, request_id} envelope.
package server

import (
	"context"
	"embed"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hrygo/dialogued/internal/ambiguity"
	"github.com/hrygo/dialogued/internal/choice"
	"github.com/hrygo/dialogued/internal/confidence"
	"github.com/hrygo/dialogued/internal/confirmation"
	"github.com/hrygo/dialogued/internal/handler"
	"github.com/hrygo/dialogued/internal/metrics"
	"github.com/hrygo/dialogued/internal/nlu"
	"github.com/hrygo/dialogued/internal/orchestrator"
	"github.com/hrygo/dialogued/internal/profile"
	"github.com/hrygo/dialogued/internal/registry"
	"github.com/hrygo/dialogued/internal/resolver"
	"github.com/hrygo/dialogued/internal/session"
	"github.com/hrygo/dialogued/internal/slot"
	"github.com/hrygo/dialogued/internal/version"
	"github.com/hrygo/dialogued/store"
)

//go:embed seed/intents.yaml
var seedFixture embed.FS

// Server wraps an echo instance bound to one Orchestrator.
type Server struct {
	echo           *echo.Echo
	profile        *profile.Profile
	orch           *orchestrator.Orchestrator
	metricsHandler http.Handler
}

// NewServer wires C1-C12 from a Store and Profile into a ready-to-start
// Server. This is the orchestrator's composition root: every subsystem
// constructor in internal/* is invoked exactly once, here.
func NewServer(ctx context.Context, prof *profile.Profile, db *store.Store) (*Server, error) {
	reg, err := registry.New(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build registry")
	}
	if err := reg.LoadFromStore(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load registry from store")
	}
	if len(reg.ActiveIntents()) == 0 {
		seed, err := seedFixture.ReadFile("seed/intents.yaml")
		if err != nil {
			return nil, errors.Wrap(err, "failed to read registry seed fixture")
		}
		if err := reg.LoadYAML(seed); err != nil {
			return nil, errors.Wrap(err, "failed to load registry seed fixture")
		}
		slog.Info("registry seeded from bundled fixture", "intents", len(reg.ActiveIntents()))
	}

	keywords := make(map[string][]string, len(reg.ActiveIntents()))
	for _, ic := range reg.ActiveIntents() {
		keywords[ic.IntentName] = ic.Examples
	}

	var nluAdapter nlu.Adapter
	switch prof.NLUProvider {
	case "http":
		nluAdapter = nlu.NewHTTPAdapter(prof.NLUBaseURL, prof.NLUAPIKey, time.Duration(prof.NLUTimeout)*time.Second)
	default:
		nluAdapter = nlu.NewMockAdapter(keywords)
	}

	var kb handler.KBFallback
	switch prof.KBProvider {
	case "http":
		kb = handler.NewHTTPKBFallback(prof.KBBaseURL, time.Duration(prof.HandlerDefaultTimeoutMs)*time.Millisecond)
	default:
		kb = handler.StaticKBFallback{Answer: "抱歉，我暂时无法回答这个问题，您可以换个说法试试。"}
	}

	bands := confidence.Bands{
		High:   float32(prof.ConfidenceHigh),
		Medium: float32(prof.ConfidenceMedium),
		Low:    float32(prof.ConfidenceLow),
		Reject: 0.40,
	}
	confMgr := confidence.NewManager(reg, bands)

	ambDet := ambiguity.NewDetector(ambiguity.Config{
		GapThreshold:  float32(prof.AmbiguityGapThreshold),
		MinConfidence: 0.50,
		MaxCandidates: prof.AmbiguityMaxCandidates,
	})

	sessions := session.NewManager(db, prof.HistoryWindow, time.Duration(prof.SessionTTLHours)*time.Hour)
	slotStore := slot.NewStore(db, 4096, time.Duration(prof.SessionTTLHours)*time.Hour)
	transformer := slot.NewTransformer()
	resolve := resolver.NewResolver(nil)
	choiceParser := choice.NewParser()
	confirmMgr := confirmation.NewManager(db, reg, confMgr, time.Duration(prof.HandlerDefaultTimeoutMs)*time.Millisecond*15, confirmation.PolicyFlags{})
	dispatcher := handler.NewDispatcher(reg, rand.New(rand.NewSource(time.Now().UnixNano())), nil, nil)

	orch := orchestrator.New(
		db, reg, sessions, slotStore, transformer, nluAdapter,
		confMgr, ambDet, resolve, choiceParser, confirmMgr, dispatcher, kb,
		time.Duration(prof.TurnTimeoutMs)*time.Millisecond,
	)

	var metricsHandler http.Handler
	if prof.MetricsOn {
		promReg := prometheus.NewRegistry()
		orch.SetMetrics(metrics.New(promReg))
		metricsHandler = metrics.Handler(promReg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())

	s := &Server{echo: e, profile: prof, orch: orch, metricsHandler: metricsHandler}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	chat := s.echo.Group("/chat")
	chat.POST("/interact", s.handleInteract)
	chat.POST("/disambiguate", s.handleDisambiguate)
	if s.metricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}
}

// Start begins serving on the profile's configured address/port/unix
// socket. It returns once the listener is bound; Serve runs in the
// background goroutine the caller owns via Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.profile.Addr, strconv.Itoa(s.profile.Port))
	network := "tcp"
	listenAddr := addr
	if s.profile.UNIXSock != "" {
		network = "unix"
		listenAddr = s.profile.UNIXSock
	}

	ln, err := net.Listen(network, listenAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", listenAddr)
	}
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down server cleanly", "error", err)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// newRequestID is used where echo's own request-id middleware value isn't
// threaded through (error paths before routing).
func newRequestID() string {
	return uuid.NewString()
}
