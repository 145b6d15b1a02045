package api

import (
	"io"
	"strconv"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/service"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var errBadBody = apperrors.Validation("invalid request body")

func (s *Server) register(c *fiber.Ctx) error {
	var req service.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	res, err := s.users.Register(c.UserContext(), req)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, res)
}

func (s *Server) login(c *fiber.Ctx) error {
	var req service.LoginInput
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	res, err := s.users.Login(c.UserContext(), req)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, res)
}

func (s *Server) me(c *fiber.Ctx) error {
	u, err := s.users.Me(c.UserContext(), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, u)
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	var patch models.ProfilePatch
	if err := c.BodyParser(&patch); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	u, err := s.users.UpdateProfile(c.UserContext(), currentUser(c), patch)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, u)
}

func (s *Server) searchUsers(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := s.users.Search(c.UserContext(), currentUser(c), c.Query("q"), limit)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, users)
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	users, err := s.users.ListOthers(c.UserContext(), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, users)
}

func (s *Server) getUser(c *fiber.Ctx) error {
	u, err := s.users.GetPublic(c.UserContext(), c.Params("id"))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, u)
}

func (s *Server) touchLastSeen(c *fiber.Ctx) error {
	uid := currentUser(c)
	s.users.TouchLastSeen(c.UserContext(), uid)
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"user_id": uid})
}

func (s *Server) onlineIDs(c *fiber.Ctx) error {
	return utils.JSONSuccess(c, fiber.StatusOK, fiber.Map{"user_ids": s.presence.OnlineIDs()})
}

type openThreadReq struct {
	PeerID string `json:"peer_id" validate:"required"`
}

func (s *Server) openThread(c *fiber.Ctx) error {
	var req openThreadReq
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	if err := utils.Validate(req); err != nil {
		return utils.JSONAppError(c, err)
	}
	t, err := s.messages.OpenOrCreateThread(c.UserContext(), currentUser(c), req.PeerID)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, t)
}

func (s *Server) listThreads(c *fiber.Ctx) error {
	sums, err := s.messages.ListThreadsForUser(c.UserContext(), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, sums)
}

type sendMessageReq struct {
	ReceiverID string           `json:"receiver_id"`
	Text       string           `json:"text"`
	Media      string           `json:"media"`
	MediaKind  models.MediaKind `json:"media_kind"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	m, err := s.messages.SendMessage(c.UserContext(), service.SendInput{
		ThreadID:   c.Params("thread_id"),
		SenderID:   currentUser(c),
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Media:      req.Media,
		MediaKind:  req.MediaKind,
	})
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, m)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	msgs, err := s.messages.ListMessages(c.UserContext(), c.Params("thread_id"), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusOK, msgs)
}

func (s *Server) markThreadRead(c *fiber.Ctx) error {
	receipt, err := s.messages.MarkThreadRead(c.UserContext(), c.Params("thread_id"), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	if receipt.Count > 0 {
		before := receipt.Before
		s.broadcast(c, receipt.ThreadID, events.MessageRead{
			ThreadID:   receipt.ThreadID,
			ReaderID:   receipt.ReaderID,
			ThreadWide: true,
			Before:     &before,
		})
	}
	return utils.JSONSuccess(c, fiber.StatusOK, receipt)
}

type editMessageReq struct {
	Text string `json:"text"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	var req editMessageReq
	if err := c.BodyParser(&req); err != nil {
		return utils.JSONAppError(c, errBadBody)
	}
	m, err := s.messages.EditMessage(c.UserContext(), c.Params("msg_id"), currentUser(c), req.Text)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	s.broadcast(c, m.ThreadID, events.MessageEdited{ThreadID: m.ThreadID, ID: m.ID, Text: *m.Text})
	return utils.JSONSuccess(c, fiber.StatusOK, m)
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	m, changed, err := s.messages.SoftDeleteMessage(c.UserContext(), c.Params("msg_id"), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	if changed {
		s.broadcast(c, m.ThreadID, events.MessageDeleted{ThreadID: m.ThreadID, ID: m.ID, Text: s.messages.Tombstone()})
	}
	return utils.JSONSuccess(c, fiber.StatusOK, m)
}

func (s *Server) markRead(c *fiber.Ctx) error {
	m, changed, err := s.messages.MarkRead(c.UserContext(), c.Params("msg_id"), currentUser(c))
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	if changed {
		s.broadcast(c, m.ThreadID, events.MessageRead{ThreadID: m.ThreadID, ReaderID: m.ReceiverID, MessageID: m.ID})
	}
	return utils.JSONSuccess(c, fiber.StatusOK, m)
}

func (s *Server) upload(c *fiber.Ctx) error {
	if s.media == nil {
		return fiber.ErrNotFound
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return utils.JSONAppError(c, apperrors.Validation("file is required"))
	}
	if fh.Size > s.media.MaxBytes() {
		return utils.JSONAppError(c, apperrors.Validation("file is too large"))
	}
	f, err := fh.Open()
	if err != nil {
		return utils.JSONAppError(c, apperrors.Wrap(apperrors.KindInternal, "open upload", err))
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.media.MaxBytes()+1))
	if err != nil {
		return utils.JSONAppError(c, apperrors.Wrap(apperrors.KindInternal, "read upload", err))
	}
	up, err := s.media.Upload(c.UserContext(), currentUser(c), fh.Filename, fh.Header.Get(fiber.HeaderContentType), data)
	if err != nil {
		return utils.JSONAppError(c, err)
	}
	return utils.JSONSuccess(c, fiber.StatusCreated, up)
}

// broadcast relays ev to the thread group, skipping the caller's own
// websocket connection when it names one. A header naming another user's
// connection is ignored.
func (s *Server) broadcast(c *fiber.Ctx, threadID string, ev events.Event) {
	exclude := c.Get(headerConnectionID)
	if exclude != "" && !s.hub.OwnedBy(exclude, currentUser(c)) {
		s.log.Debug("ignoring foreign connection id", zap.String("conn_id", exclude), zap.String("user_id", currentUser(c)))
		exclude = ""
	}
	n, err := s.hub.Publish(threadID, ev, exclude)
	if err != nil {
		s.log.Error("broadcast encode failed", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	s.log.Debug("broadcast", zap.String("thread_id", threadID), zap.String("type", string(ev.Kind())), zap.Int("receivers", n))
}
