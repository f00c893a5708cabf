package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ypreiser/botgate/core/config"
	"github.com/ypreiser/botgate/domains/chat"
	"github.com/ypreiser/botgate/domains/connection"
	"github.com/ypreiser/botgate/domains/gateway"
	"github.com/ypreiser/botgate/domains/media"
	"github.com/ypreiser/botgate/domains/profile"
	"github.com/ypreiser/botgate/domains/user"
	"github.com/ypreiser/botgate/pkg/apperror"
	"github.com/ypreiser/botgate/ui/rest/middleware"
)

type fakeUsers struct {
	byID map[string]user.User
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, apperror.NotFoundError("user not found")
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFoundError("user not found")
	}
	found := u
	return &found, nil
}

func (f *fakeUsers) Register(_ context.Context, email, _, name string) (*user.User, error) {
	created := user.User{ID: "new", Email: email, Name: name, Privilege: user.PrivilegeUser}
	f.byID[created.ID] = created
	return &created, nil
}

func (f *fakeUsers) List(_ context.Context) ([]user.User, error) {
	out := make([]user.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeUsers) SetPrivilege(_ context.Context, id string, privilege user.Privilege) error {
	u, ok := f.byID[id]
	if !ok {
		return apperror.NotFoundError("user not found")
	}
	u.Privilege = privilege
	f.byID[id] = u
	return nil
}

func (f *fakeUsers) IncrementTokens(context.Context, string, int64, int64) error {
	return nil
}

type fakeAuth struct {
	users  *fakeUsers
	issuer tokenSigner
}

type tokenSigner interface {
	GenerateToken(userID, email, privilege string) (string, error)
}

func (f *fakeAuth) Register(ctx context.Context, email, password, name string) (*user.User, error) {
	return f.users.Register(ctx, email, password, name)
}

func (f *fakeAuth) Login(ctx context.Context, email, _ string) (*user.User, string, error) {
	found, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	token, err := f.issuer.GenerateToken(found.ID, found.Email, string(found.Privilege))
	return found, token, err
}

func (f *fakeAuth) Me(ctx context.Context, userID string) (*user.User, error) {
	return f.users.FindByID(ctx, userID)
}

type fakeGateway struct {
	startErr  error
	qrErr     error
	sendErr   error
	publicErr error
	listed    []connection.WhatsAppConnection
}

func (f *fakeGateway) StartWhatsAppSession(context.Context, user.User, string, string) (connection.Status, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return connection.StatusInitializing, nil
}

func (f *fakeGateway) GetQR(context.Context, user.User, string) (string, error) {
	if f.qrErr != nil {
		return "", f.qrErr
	}
	return "data:image/png;base64,AAAA", nil
}

func (f *fakeGateway) GetStatus(context.Context, user.User, string) (string, error) {
	return string(connection.StatusConnected), nil
}

func (f *fakeGateway) SendWhatsApp(context.Context, user.User, string, string, string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "3EB0ABCDEF", nil
}

func (f *fakeGateway) CloseWhatsApp(context.Context, user.User, string) error {
	return nil
}

func (f *fakeGateway) ListConnections(context.Context, user.User) ([]connection.WhatsAppConnection, error) {
	return f.listed, nil
}

func (f *fakeGateway) StartPublicChat(context.Context, string) (*gateway.PublicSession, error) {
	if f.publicErr != nil {
		return nil, f.publicErr
	}
	return &gateway.PublicSession{SessionID: "sess-1", ProfileName: "support"}, nil
}

func (f *fakeGateway) SendPublicMessage(context.Context, string, string, string, []chat.Attachment) (*gateway.Reply, error) {
	if f.publicErr != nil {
		return nil, f.publicErr
	}
	return &gateway.Reply{Text: "hello there"}, nil
}

func (f *fakeGateway) EndPublicChat(context.Context, string, string) error {
	return f.publicErr
}

func (f *fakeGateway) GetPublicHistory(context.Context, string, string) ([]chat.Message, error) {
	return nil, f.publicErr
}

type fakeProfiles struct {
	byID map[string]*profile.BotProfile
}

func (f *fakeProfiles) Create(_ context.Context, owner user.User, p *profile.BotProfile) (*profile.BotProfile, error) {
	created := *p
	created.ID = "p" + owner.ID
	created.OwnerUserID = owner.ID
	f.byID[created.ID] = &created
	return &created, nil
}

func (f *fakeProfiles) Get(_ context.Context, owner user.User, id string) (*profile.BotProfile, error) {
	found, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFoundError("bot profile not found")
	}
	if found.OwnerUserID != owner.ID && !owner.IsAdmin() {
		return nil, apperror.ForbiddenError("you do not own this bot profile")
	}
	return found, nil
}

func (f *fakeProfiles) GetByName(_ context.Context, owner user.User, name string) (*profile.BotProfile, error) {
	for _, p := range f.byID {
		if p.Name == name && p.OwnerUserID == owner.ID {
			return p, nil
		}
	}
	return nil, apperror.NotFoundError("bot profile not found")
}

func (f *fakeProfiles) List(_ context.Context, owner user.User) ([]profile.BotProfile, error) {
	out := []profile.BotProfile{}
	for _, p := range f.byID {
		if p.OwnerUserID == owner.ID || owner.IsAdmin() {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProfiles) Update(ctx context.Context, owner user.User, id string, p *profile.BotProfile) (*profile.BotProfile, error) {
	if _, err := f.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	updated := *p
	updated.ID = id
	updated.OwnerUserID = owner.ID
	f.byID[id] = &updated
	return &updated, nil
}

func (f *fakeProfiles) Delete(ctx context.Context, owner user.User, id string) error {
	if _, err := f.Get(ctx, owner, id); err != nil {
		return err
	}
	delete(f.byID, id)
	return nil
}

type fakeChats struct{}

func (fakeChats) List(context.Context, string, bool) ([]chat.Chat, error) {
	return []chat.Chat{}, nil
}

func (fakeChats) Get(context.Context, string, bool, string) (*chat.Chat, error) {
	return nil, apperror.NotFoundError("chat not found")
}

type fakeAdmin struct {
	users *fakeUsers
}

func (f *fakeAdmin) ListUsers(ctx context.Context) ([]user.User, error) {
	return f.users.List(ctx)
}

func (f *fakeAdmin) SetPrivilege(ctx context.Context, userID string, privilege user.Privilege) error {
	return f.users.SetPrivilege(ctx, userID, privilege)
}

type fakeStore struct {
	saved int
}

func (f *fakeStore) Save(_ context.Context, originalName, mimeType string, content io.Reader) (*media.StoredFile, error) {
	size, err := io.Copy(io.Discard, content)
	if err != nil {
		return nil, err
	}
	f.saved++
	return &media.StoredFile{
		URL:          "/statics/uploads/stored.bin",
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         size,
		UploadedAt:   time.Now().UTC(),
	}, nil
}

type restFixture struct {
	app      *fiber.App
	cfg      *config.Config
	users    *fakeUsers
	gateway  *fakeGateway
	store    *fakeStore
	profiles *fakeProfiles
}

func newRestFixture(t *testing.T) *restFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.Version = "test"
	cfg.App.Environment = "development"
	cfg.Security = config.SecurityConfig{
		JWTSecret:     "test-secret",
		CookieName:    "botgate_session",
		TokenLifetime: time.Hour,
	}
	cfg.Upload.MaxSizeBytes = 64

	users := &fakeUsers{byID: map[string]user.User{
		"u1": {ID: "u1", Email: "user@example.com", Name: "User", Privilege: user.PrivilegeUser},
		"a1": {ID: "a1", Email: "admin@example.com", Name: "Admin", Privilege: user.PrivilegeAdmin},
	}}
	gw := &fakeGateway{}
	store := &fakeStore{}
	profiles := &fakeProfiles{byID: make(map[string]*profile.BotProfile)}

	app := fiber.New()
	app.Use(middleware.Recovery())

	InitRestAuth(app, app, &fakeAuth{users: users, issuer: sessionIssuer(cfg)}, users, cfg)
	InitRestProfile(app, profiles, cfg, users)
	InitRestChat(app, fakeChats{}, cfg, users)
	InitRestWhatsApp(app, gw, cfg, users)
	InitRestPublicChat(app, gw)
	InitRestUpload(app, store, cfg, users)
	InitRestAdmin(app, &fakeAdmin{users: users}, cfg, users)

	return &restFixture{app: app, cfg: cfg, users: users, gateway: gw, store: store, profiles: profiles}
}

func (f *restFixture) sessionCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	u := f.users.byID[userID]
	token, err := sessionIssuer(f.cfg).GenerateToken(u.ID, u.Email, string(u.Privilege))
	require.NoError(t, err)
	return &http.Cookie{Name: f.cfg.Security.CookieName, Value: token}
}

type responseBody struct {
	Status  int             `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

func decodeBody(t *testing.T, res *http.Response) responseBody {
	t.Helper()
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	var body responseBody
	require.NoError(t, json.Unmarshal(raw, &body), "body: %s", raw)
	return body
}

func jsonRequest(method, target, payload string) *http.Request {
	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestProtectedRoutesRejectMissingSession(t *testing.T) {
	f := newRestFixture(t)

	for _, target := range []string{"/chats", "/botprofile", "/whatsapp/session", "/auth/me"} {
		res, err := f.app.Test(httptest.NewRequest(http.MethodGet, target, nil))
		require.NoError(t, err)
		body := decodeBody(t, res)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode, target)
		assert.Equal(t, "AUTHENTICATION_ERROR", body.Code, target)
	}
}

func TestProtectedRoutesRejectBadToken(t *testing.T) {
	f := newRestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.AddCookie(&http.Cookie{Name: f.cfg.Security.CookieName, Value: "not-a-jwt"})

	res, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	f := newRestFixture(t)

	res, err := f.app.Test(jsonRequest(http.MethodPost, "/auth/login",
		`{"email":"user@example.com","password":"whatever123"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var session *http.Cookie
	for _, cookie := range res.Cookies() {
		if cookie.Name == f.cfg.Security.CookieName {
			session = cookie
		}
	}
	require.NotNil(t, session, "login must set the session cookie")
	assert.NotEmpty(t, session.Value)
	assert.True(t, session.HttpOnly)
	assert.Equal(t, "/", session.Path)
}

func TestLogoutExpiresSessionCookie(t *testing.T) {
	f := newRestFixture(t)

	res, err := f.app.Test(httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)

	for _, cookie := range res.Cookies() {
		if cookie.Name == f.cfg.Security.CookieName {
			assert.Empty(t, cookie.Value)
			assert.True(t, cookie.Expires.Before(time.Now()))
			return
		}
	}
	t.Fatal("logout must rewrite the session cookie")
}

func TestAuthMeReturnsCaller(t *testing.T) {
	f := newRestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(f.sessionCookie(t, "u1"))

	res, err := f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var me user.User
	require.NoError(t, json.Unmarshal(body.Results, &me))
	assert.Equal(t, "u1", me.ID)
}

func TestWhatsAppSessionList(t *testing.T) {
	f := newRestFixture(t)
	f.gateway.listed = []connection.WhatsAppConnection{{ConnectionName: "shop", UserID: "u1"}}

	req := httptest.NewRequest(http.MethodGet, "/whatsapp/session", nil)
	req.AddCookie(f.sessionCookie(t, "u1"))

	res, err := f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var listed []connection.WhatsAppConnection
	require.NoError(t, json.Unmarshal(body.Results, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "shop", listed[0].ConnectionName)
}

func TestWhatsAppSessionCreate(t *testing.T) {
	f := newRestFixture(t)

	req := jsonRequest(http.MethodPost, "/whatsapp/session",
		`{"connectionName":"shop","systemPromptName":"support"}`)
	req.AddCookie(f.sessionCookie(t, "u1"))

	res, err := f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var results struct {
		ConnectionName string `json:"connectionName"`
		Status         string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Results, &results))
	assert.Equal(t, "shop", results.ConnectionName)
	assert.Equal(t, string(connection.StatusInitializing), results.Status)
}

func TestErrorTaxonomyIsMappedByRecovery(t *testing.T) {
	cases := []struct {
		name       string
		arrange    func(f *restFixture)
		request    func(f *restFixture) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name:    "missing qr maps to 404",
			arrange: func(f *restFixture) { f.gateway.qrErr = apperror.NotFoundError("no QR code available") },
			request: func(f *restFixture) *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/whatsapp/session/shop/qr", nil)
				req.AddCookie(f.sessionCookie(t, "u1"))
				return req
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND_ERROR",
		},
		{
			name:    "duplicate session maps to 409",
			arrange: func(f *restFixture) { f.gateway.startErr = apperror.ConflictError("session already active") },
			request: func(f *restFixture) *http.Request {
				req := jsonRequest(http.MethodPost, "/whatsapp/session",
					`{"connectionName":"shop","systemPromptName":"support"}`)
				req.AddCookie(f.sessionCookie(t, "u1"))
				return req
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT_ERROR",
		},
		{
			name:    "bad send maps to 400",
			arrange: func(f *restFixture) { f.gateway.sendErr = apperror.ValidationError("recipient is required") },
			request: func(f *restFixture) *http.Request {
				req := jsonRequest(http.MethodPost, "/whatsapp/session/shop/message", `{"to":"","message":"hi"}`)
				req.AddCookie(f.sessionCookie(t, "u1"))
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:    "foreign profile maps to 403",
			arrange: func(f *restFixture) { f.gateway.publicErr = apperror.ForbiddenError("bot profile is disabled") },
			request: func(f *restFixture) *http.Request {
				return jsonRequest(http.MethodPost, "/publicchat/p1/start", `{}`)
			},
			wantStatus: http.StatusForbidden,
			wantCode:   "FORBIDDEN_ERROR",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRestFixture(t)
			tc.arrange(f)

			res, err := f.app.Test(tc.request(f))
			require.NoError(t, err)
			body := decodeBody(t, res)
			assert.Equal(t, tc.wantStatus, res.StatusCode)
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}

func TestPublicChatIsUnauthenticated(t *testing.T) {
	f := newRestFixture(t)

	res, err := f.app.Test(jsonRequest(http.MethodPost, "/publicchat/p1/start", `{}`))
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var session gateway.PublicSession
	require.NoError(t, json.Unmarshal(body.Results, &session))
	assert.Equal(t, "sess-1", session.SessionID)

	res, err = f.app.Test(jsonRequest(http.MethodPost, "/publicchat/p1/msg",
		`{"sessionId":"sess-1","message":"hi"}`))
	require.NoError(t, err)
	body = decodeBody(t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var reply gateway.Reply
	require.NoError(t, json.Unmarshal(body.Results, &reply))
	assert.Equal(t, "hello there", reply.Text)
}

func TestProfileOwnershipOverREST(t *testing.T) {
	f := newRestFixture(t)
	f.profiles.byID["p1"] = &profile.BotProfile{ID: "p1", Name: "support", OwnerUserID: "u1"}

	// A stranger gets 403; the owner and an admin both get the profile.
	req := httptest.NewRequest(http.MethodGet, "/botprofile/p1", nil)
	req.AddCookie(f.sessionCookie(t, "a1"))
	res, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/botprofile/p1", nil)
	req.AddCookie(f.sessionCookie(t, "u1"))
	res, err = f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	f.users.byID["u2"] = user.User{ID: "u2", Email: "u2@example.com", Privilege: user.PrivilegeUser}
	req = httptest.NewRequest(http.MethodGet, "/botprofile/p1", nil)
	req.AddCookie(f.sessionCookie(t, "u2"))
	res, err = f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "FORBIDDEN_ERROR", body.Code)
}

func TestAdminEndpointsRequirePrivilege(t *testing.T) {
	f := newRestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(f.sessionCookie(t, "u1"))
	res, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.AddCookie(f.sessionCookie(t, "a1"))
	res, err = f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var listed []user.User
	require.NoError(t, json.Unmarshal(body.Results, &listed))
	assert.Len(t, listed, 2)
}

func TestAdminSetPrivilege(t *testing.T) {
	f := newRestFixture(t)

	req := jsonRequest(http.MethodPatch, "/admin/user/u1/privilege", `{"privilege":"admin"}`)
	req.AddCookie(f.sessionCookie(t, "a1"))

	res, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, user.PrivilegeAdmin, f.users.byID["u1"].Privilege)
}

func multipartUpload(t *testing.T, size int) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "payload.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0x42}, size))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadEnforcesSizeLimit(t *testing.T) {
	f := newRestFixture(t)

	req := multipartUpload(t, int(f.cfg.Upload.MaxSizeBytes)+1)
	req.AddCookie(f.sessionCookie(t, "u1"))
	res, err := f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", body.Code)
	assert.Zero(t, f.store.saved)
}

func TestUploadAcceptsSmallFile(t *testing.T) {
	f := newRestFixture(t)

	req := multipartUpload(t, 16)
	req.AddCookie(f.sessionCookie(t, "u1"))
	res, err := f.app.Test(req)
	require.NoError(t, err)
	body := decodeBody(t, res)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var stored media.StoredFile
	require.NoError(t, json.Unmarshal(body.Results, &stored))
	assert.Equal(t, "payload.bin", stored.OriginalName)
	assert.EqualValues(t, 16, stored.Size)
	assert.Equal(t, 1, f.store.saved)
}
