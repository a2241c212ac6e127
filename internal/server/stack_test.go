package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/dashboard"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/emissions"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/hectares"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/records"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/tokens"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "ecocarbon-auth"
	testAudience      = "ecocarbon-api"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "admin-secret"
	jsonContentType   = "application/json"
)

type testStack struct {
	db         *gorm.DB
	server     *httptest.Server
	provider   *auth.Provider
	dispatcher *realtime.Dispatcher
}

type stackOptions struct {
	rateLimit string
	heartbeat time.Duration
}

func newTestStack(t *testing.T, options stackOptions) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&auth.Identity{}, &auth.RevokedSession{}, &model.Profile{}, &model.Hectare{}, &model.Emission{}, &model.Token{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	ids := records.NewUUIDProvider()
	dispatcher := realtime.NewDispatcher()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}
	provider, err := auth.NewProvider(auth.ProviderConfig{
		Database:     db,
		IDProvider:   ids,
		Tokens:       issuer,
		Publisher:    dispatcher,
		PasswordCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to build identity provider: %v", err)
	}
	broker, err := auth.NewSessionBroker(auth.SessionBrokerConfig{Resolver: provider, Events: dispatcher})
	if err != nil {
		t.Fatalf("failed to build session broker: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Identities: provider, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	hectareService, err := hectares.NewService(hectares.ServiceConfig{Database: db, IDProvider: ids, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to build hectare service: %v", err)
	}
	emissionService, err := emissions.NewService(emissions.ServiceConfig{Database: db, IDProvider: ids, Hectares: hectareService, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to build emission service: %v", err)
	}
	tokenService, err := tokens.NewService(tokens.ServiceConfig{Database: db, IDProvider: ids, Publisher: dispatcher})
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}
	composer, err := dashboard.NewComposer(dashboard.Config{
		Hectares:  hectareService,
		Emissions: emissionService,
		Tokens:    tokenService,
		Profiles:  userService,
		Workers:   4,
	})
	if err != nil {
		t.Fatalf("failed to build dashboard composer: %v", err)
	}
	t.Cleanup(composer.Stop)

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Identity:          provider,
		Hectares:          hectareService,
		Emissions:         emissionService,
		Tokens:            tokenService,
		Users:             userService,
		Dashboards:        composer,
		Realtime:          dispatcher,
		SessionWatcher:    broker,
		Logger:            zap.NewNop(),
		AuthRateLimit:     options.rateLimit,
		HeartbeatInterval: options.heartbeat,
	})
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if _, err := provider.BootstrapAdmin(context.Background(), testAdminEmail, testAdminPassword, "Admin"); err != nil {
		t.Fatalf("failed to bootstrap admin: %v", err)
	}
	return testStack{db: db, server: server, provider: provider, dispatcher: dispatcher}
}

// call sends a JSON request and decodes a JSON response into out when out is non-nil.
func (s testStack) call(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if out != nil && response.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
	return response.StatusCode
}

func (s testStack) signIn(t *testing.T, email, password string) string {
	t.Helper()
	var payload signedInResponsePayload
	status := s.call(t, http.MethodPost, "/auth/sign-in", "", signInRequestPayload{Email: email, Password: password}, &payload)
	if status != http.StatusOK {
		t.Fatalf("sign-in for %s returned %d", email, status)
	}
	return payload.AccessToken
}

func (s testStack) signUp(t *testing.T, email, password, fullName string) signedInResponsePayload {
	t.Helper()
	var payload signedInResponsePayload
	status := s.call(t, http.MethodPost, "/auth/sign-up", "", signUpRequestPayload{Email: email, Password: password, FullName: fullName}, &payload)
	if status != http.StatusCreated {
		t.Fatalf("sign-up for %s returned %d", email, status)
	}
	return payload
}
