package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-app/internal/auth"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/media"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"github.com/fathima-sithara/chat-app/internal/repository"
	"github.com/fathima-sithara/chat-app/internal/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type testEnv struct {
	app *fiber.App
	hub *hub.Hub
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zap.NewNop()
	store := repository.NewMemoryStore()
	jwt := auth.NewJWTManager("test-secret", time.Hour)
	h := hub.New()
	reg := presence.NewRegistry(h, log)
	local, err := media.NewLocalStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatal(err)
	}
	app := NewServer(ctx, Options{RequestsPerMinute: 6000, AuthPerMinute: 6000, Burst: 100}, Deps{
		Users:    service.NewUserService(store, jwt, log),
		Messages: service.NewMessageService(store, nil, log, service.MessageOptions{}),
		Media:    media.NewService(local, media.Options{MaxBytes: 1 << 20}, log),
		Hub:      h,
		Presence: reg,
		Tokens:   jwt,
		Store:    store,
		Log:      log,
	})
	return &testEnv{app: app, hub: h}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (int, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
	return v
}

func (e *testEnv) register(t *testing.T, name string) service.AuthResult {
	t.Helper()
	status, env := e.do(t, "POST", "/api/v1/auth/register", "", service.RegisterInput{
		Username: name, Email: name + "@example.com", Password: "secret123",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register %s: %d %+v", name, status, env.Error)
	}
	return decode[service.AuthResult](t, env)
}

func TestHealthAndAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	if status, _ := e.do(t, "GET", "/healthz", "", nil); status != fiber.StatusOK {
		t.Fatalf("healthz = %d", status)
	}
	status, env := e.do(t, "GET", "/api/v1/threads", "", nil)
	if status != fiber.StatusUnauthorized || env.Status != "error" || env.Error.Kind != "unauthorized" {
		t.Fatalf("expected 401 error envelope, got %d %+v", status, env)
	}
	status, _ = e.do(t, "GET", "/api/v1/threads", "not-a-token", nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("bad token = %d", status)
	}
}

func TestRegisterLoginValidation(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice")

	status, env := e.do(t, "POST", "/api/v1/auth/register", "", service.RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "secret123"})
	if status != fiber.StatusConflict || env.Error.Kind != "conflict" {
		t.Fatalf("duplicate email: %d %+v", status, env.Error)
	}
	status, env = e.do(t, "POST", "/api/v1/auth/register", "", service.RegisterInput{Username: "bo", Email: "bo@example.com", Password: "secret123"})
	if status != fiber.StatusBadRequest || env.Error.Message != "username must be at least 3 characters long" {
		t.Fatalf("short username: %d %+v", status, env.Error)
	}
	status, _ = e.do(t, "POST", "/api/v1/auth/login", "", service.LoginInput{Email: "alice@example.com", Password: "secret123"})
	if status != fiber.StatusOK {
		t.Fatalf("login = %d", status)
	}
	status, env = e.do(t, "POST", "/api/v1/auth/login", "", service.LoginInput{Email: "alice@example.com", Password: "nope"})
	if status != fiber.StatusUnauthorized || env.Error.Kind != "unauthorized" {
		t.Fatalf("bad password: %d %+v", status, env.Error)
	}
}

func TestThreadAndMessageFlow(t *testing.T) {
	e := newTestEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	carol := e.register(t, "carol")

	status, env := e.do(t, "POST", "/api/v1/threads/open", alice.Token, fiber.Map{"peer_id": bob.User.ID})
	if status != fiber.StatusOK {
		t.Fatalf("open thread: %d %+v", status, env.Error)
	}
	th := decode[models.Thread](t, env)

	_, env = e.do(t, "POST", "/api/v1/threads/open", bob.Token, fiber.Map{"peer_id": alice.User.ID})
	if again := decode[models.Thread](t, env); again.ID != th.ID {
		t.Fatalf("reverse open should return the same thread")
	}

	status, env = e.do(t, "POST", "/api/v1/threads/"+th.ID+"/messages", alice.Token, fiber.Map{"text": "hi bob"})
	if status != fiber.StatusCreated {
		t.Fatalf("send: %d %+v", status, env.Error)
	}
	msg := decode[models.Message](t, env)
	if msg.ReceiverID != bob.User.ID {
		t.Fatalf("receiver = %s", msg.ReceiverID)
	}

	status, env = e.do(t, "GET", "/api/v1/threads/"+th.ID+"/messages", carol.Token, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("outsider list: %d %+v", status, env.Error)
	}

	status, env = e.do(t, "PATCH", "/api/v1/messages/"+msg.ID, bob.Token, fiber.Map{"text": "hijack"})
	if status != fiber.StatusForbidden || env.Error.Kind != "forbidden" {
		t.Fatalf("non-author edit: %d %+v", status, env.Error)
	}

	_, env = e.do(t, "GET", "/api/v1/threads", bob.Token, nil)
	sums := decode[[]models.ThreadSummary](t, env)
	if len(sums) != 1 || sums[0].UnreadCount != 1 || sums[0].LastMessage != "hi bob" || sums[0].Counterpart.ID != alice.User.ID {
		t.Fatalf("bob summaries: %+v", sums)
	}

	status, env = e.do(t, "PUT", "/api/v1/threads/"+th.ID+"/read", bob.Token, nil)
	if status != fiber.StatusOK || decode[service.ReadReceipt](t, env).Count != 1 {
		t.Fatalf("bulk read: %d %s", status, env.Data)
	}

	status, env = e.do(t, "DELETE", "/api/v1/messages/"+msg.ID, alice.Token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("delete: %d %+v", status, env.Error)
	}
	status, env = e.do(t, "PATCH", "/api/v1/messages/"+msg.ID, alice.Token, fiber.Map{"text": "back"})
	if status != fiber.StatusConflict {
		t.Fatalf("edit deleted: %d %+v", status, env.Error)
	}

	status, _ = e.do(t, "DELETE", "/api/v1/messages/missing", alice.Token, nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("delete missing = %d", status)
	}
}

func TestMutationBroadcastSkipsCallerConnection(t *testing.T) {
	e := newTestEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	_, env := e.do(t, "POST", "/api/v1/threads/open", alice.Token, fiber.Map{"peer_id": bob.User.ID})
	th := decode[models.Thread](t, env)
	_, env = e.do(t, "POST", "/api/v1/threads/"+th.ID+"/messages", alice.Token, fiber.Map{"text": "first"})
	msg := decode[models.Message](t, env)

	a := hub.NewClient("11111111-1111-1111-1111-111111111111", alice.User.ID, 8)
	b := hub.NewClient("22222222-2222-2222-2222-222222222222", bob.User.ID, 8)
	e.hub.Register(a)
	e.hub.Register(b)
	e.hub.Join(a.ID, th.ID)
	e.hub.Join(b.ID, th.ID)

	status, _ := e.do(t, "PATCH", "/api/v1/messages/"+msg.ID, alice.Token, fiber.Map{"text": "edited"}, headerConnectionID, a.ID)
	if status != fiber.StatusOK {
		t.Fatalf("edit = %d", status)
	}
	if len(a.Send) != 0 {
		t.Fatalf("caller connection got %d frames", len(a.Send))
	}
	if len(b.Send) != 1 {
		t.Fatalf("peer connection got %d frames", len(b.Send))
	}
	ev, err := events.Decode(<-b.Send)
	if err != nil {
		t.Fatal(err)
	}
	if edited, ok := ev.(events.MessageEdited); !ok || edited.Text != "edited" || edited.ID != msg.ID {
		t.Fatalf("unexpected event %#v", ev)
	}

	// mark-read twice: only the first changes anything, so only one frame
	e.do(t, "PUT", "/api/v1/messages/"+msg.ID+"/read", bob.Token, nil, headerConnectionID, b.ID)
	e.do(t, "PUT", "/api/v1/messages/"+msg.ID+"/read", bob.Token, nil, headerConnectionID, b.ID)
	if len(a.Send) != 1 || len(b.Send) != 0 {
		t.Fatalf("read broadcast: alice=%d bob=%d", len(a.Send), len(b.Send))
	}
}

func TestUploadAndProfile(t *testing.T) {
	e := newTestEnv(t)
	alice := e.register(t, "alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.pdf")
	_, _ = part.Write([]byte("%PDF-1.4\n%test document\n"))
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("upload: %d %+v", resp.StatusCode, env.Error)
	}
	up := decode[media.Upload](t, env)
	if up.Kind != models.MediaFile || up.URL == "" {
		t.Fatalf("unexpected upload %+v", up)
	}

	status, env := e.do(t, "PUT", "/api/v1/users/profile", alice.Token, fiber.Map{"bio": "hello"})
	if status != fiber.StatusOK || decode[models.User](t, env).Bio != "hello" {
		t.Fatalf("profile: %d %+v", status, env.Error)
	}
	status, env = e.do(t, "GET", "/api/v1/presence", alice.Token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("presence = %d", status)
	}
}

func TestForeignConnectionIDIsNotExcluded(t *testing.T) {
	e := newTestEnv(t)
	alice := e.register(t, "alice")
	bob := e.register(t, "bob")
	_, env := e.do(t, "POST", "/api/v1/threads/open", alice.Token, fiber.Map{"peer_id": bob.User.ID})
	th := decode[models.Thread](t, env)
	_, env = e.do(t, "POST", "/api/v1/threads/"+th.ID+"/messages", alice.Token, fiber.Map{"text": "first"})
	msg := decode[models.Message](t, env)

	b := hub.NewClient("22222222-2222-2222-2222-222222222222", bob.User.ID, 8)
	e.hub.Register(b)
	e.hub.Join(b.ID, th.ID)

	// alice names bob's socket; he must still hear about the edit
	status, _ := e.do(t, "PATCH", "/api/v1/messages/"+msg.ID, alice.Token, fiber.Map{"text": "edited"}, headerConnectionID, b.ID)
	if status != fiber.StatusOK {
		t.Fatalf("edit = %d", status)
	}
	if len(b.Send) != 1 {
		t.Fatalf("peer connection got %d frames", len(b.Send))
	}
}
