package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fathima-sithara/chat-app/internal/client"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const help = `commands:
  /open <name or email>   open the conversation with a user
  /threads                list conversations
  /edit <id> <text>       edit one of your messages
  /delete <id>            delete one of your messages
  /read                   mark the open conversation read
  /discard <local id>     drop a failed send
  /online                 show who is online
  /quit
anything else is sent to the open conversation`

func main() {
	_ = godotenv.Load()

	path := os.Getenv("DM_CLIENT_CONFIG")
	if path == "" {
		path = "config/client.yaml"
	}
	cfg, err := client.LoadConfig(path)
	if err != nil {
		log.Fatalf("client config: %v", err)
	}
	logger, err := utils.NewLogger(false, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("client exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *client.Config, logger *zap.Logger) error {
	api := client.NewHTTPClient(cfg.ServerURL, cfg.RequestTimeout(), cfg.RetryMaxElapsed())

	var userID string
	token := cfg.Token
	if token == "" {
		res, err := api.Login(ctx, cfg.Email, cfg.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		token, userID = res.Token, res.User.ID
	} else {
		api.SetToken(token)
		me, err := api.Me(ctx)
		if err != nil {
			return fmt.Errorf("whoami: %w", err)
		}
		userID = me.ID
	}

	connID := uuid.NewString()
	api.SetConnectionID(connID)
	dialer := &client.WSDialer{
		URL:    cfg.WSURL,
		Token:  func() string { return token },
		ConnID: connID,
	}

	out := newPrinter(userID)
	var sess *client.Session
	sess = client.NewSession(userID, api, dialer, client.Options{
		SendTimeout:    cfg.SendTimeout(),
		OnUpdate:       func(u client.Update) { out.update(sess, u) },
		OnConnectionID: api.SetConnectionID,
	}, logger)
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println(help)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, api, sess, out, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, api *client.HTTPClient, sess *client.Session, out *printer, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := sess.Send(ctx, client.SendRequest{Text: line}); err != nil {
			out.errorf("send: %v", err)
		}
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return true
	case "/open":
		users, err := api.SearchUsers(ctx, arg)
		if err != nil || len(users) == 0 {
			out.errorf("no user matches %q %v", arg, errOrEmpty(err))
			return false
		}
		th, err := api.OpenThread(ctx, users[0].ID)
		if err != nil {
			out.errorf("open: %v", err)
			return false
		}
		entries, err := sess.OpenThread(ctx, th.ID)
		if err != nil {
			out.errorf("history: %v", err)
			return false
		}
		out.reset(users[0].Username, entries)
	case "/threads":
		list, err := api.ListThreads(ctx)
		if err != nil {
			out.errorf("threads: %v", err)
			return false
		}
		for _, t := range list {
			fmt.Printf("  %-20s %3d unread  %s\n", t.Counterpart.Username, t.UnreadCount, t.LastMessage)
		}
	case "/edit":
		id, text, _ := strings.Cut(arg, " ")
		if _, err := api.EditMessage(ctx, id, text); err != nil {
			out.errorf("edit: %v", err)
		}
	case "/delete":
		if err := api.DeleteMessage(ctx, arg); err != nil {
			out.errorf("delete: %v", err)
		}
	case "/read":
		if id := sess.ActiveThread(); id != "" {
			if err := api.MarkThreadRead(ctx, id); err != nil {
				out.errorf("read: %v", err)
			}
		}
	case "/discard":
		if !sess.Discard(arg) {
			out.errorf("no failed message %s", arg)
		}
	case "/online":
		fmt.Println("online:", strings.Join(sess.Online(), ", "))
	default:
		fmt.Println(help)
	}
	return false
}

func errOrEmpty(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// printer writes each entry of the open conversation again whenever its
// rendering changes.
type printer struct {
	mu     sync.Mutex
	self   string
	peer   string
	shown  map[string]string
	online string
}

func newPrinter(self string) *printer {
	return &printer{self: self, shown: make(map[string]string)}
}

func (p *printer) reset(peer string, entries []client.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peer = peer
	p.shown = make(map[string]string)
	fmt.Printf("--- conversation with %s ---\n", peer)
	p.printChanged(entries)
}

func (p *printer) update(sess *client.Session, u client.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch u.Kind {
	case events.KindOnlineIDSet:
		now := strings.Join(sess.Online(), ", ")
		if now != p.online {
			p.online = now
			fmt.Println("* online:", now)
		}
		return
	case events.KindError:
		if u.Err != nil {
			fmt.Println("! ", u.Err)
		}
	}
	if u.ThreadID != "" && u.ThreadID == sess.ActiveThread() {
		p.printChanged(sess.Entries(u.ThreadID))
	}
}

func (p *printer) printChanged(entries []client.Entry) {
	for _, e := range entries {
		key := e.Message.ID
		if key == "" || e.Status != client.StatusConfirmed {
			key = e.LocalID
		}
		line := p.render(e)
		if p.shown[key] == line {
			continue
		}
		p.shown[key] = line
		fmt.Println(line)
	}
}

func (p *printer) render(e client.Entry) string {
	who := p.peer
	if e.Message.SenderID == p.self {
		who = "me"
	}
	text := e.Message.Preview()
	var flags []string
	if e.Message.Edited {
		flags = append(flags, "edited")
	}
	if e.Message.IsRead && e.Message.SenderID == p.self {
		flags = append(flags, "read")
	}
	switch e.Status {
	case client.StatusPending:
		flags = append(flags, "sending")
	case client.StatusFailed:
		flags = append(flags, "failed, /discard "+e.LocalID)
	}
	id := e.Message.ID
	if id == "" {
		id = "-"
	}
	line := fmt.Sprintf("[%s] %s %s: %s", e.Message.CreatedAt.Local().Format("15:04"), id, who, text)
	if len(flags) > 0 {
		line += " (" + strings.Join(flags, ", ") + ")"
	}
	return line
}

func (p *printer) errorf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("! "+format+"\n", args...)
}
