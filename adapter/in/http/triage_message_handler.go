package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/pipeline"
	"triage_server/pkg/apperr"
	"triage_server/pkg/logger"
)

// MessageHandler exposes the triage pipeline to mail producers.
type MessageHandler struct {
	pipeline *pipeline.Service
	messages out.MessageRepository
	drafts   out.DraftRepository
	events   out.EventRepository
	log      *logger.Logger
}

// NewMessageHandler creates the handler.
func NewMessageHandler(
	pipe *pipeline.Service,
	messages out.MessageRepository,
	drafts out.DraftRepository,
	events out.EventRepository,
) *MessageHandler {
	return &MessageHandler{
		pipeline: pipe,
		messages: messages,
		drafts:   drafts,
		events:   events,
		log:      logger.WithField("handler", "messages"),
	}
}

// Register mounts the routes on the authenticated API group.
func (h *MessageHandler) Register(api fiber.Router) {
	api.Post("/messages", h.Ingest)
	api.Post("/messages/batch", h.IngestBatch)
	api.Get("/messages/:id", h.Status)
	api.Get("/stats", h.Stats)
}

type ingestRequest struct {
	ExternalID string     `json:"external_id"`
	Account    string     `json:"account"`
	Folder     string     `json:"folder"`
	FromAddr   string     `json:"from_addr"`
	FromName   *string    `json:"from_name"`
	ToAddr     string     `json:"to_addr"`
	Subject    string     `json:"subject"`
	BodyText   string     `json:"body_text"`
	BodyHTML   *string    `json:"body_html"`
	ReceivedAt *time.Time `json:"received_at"`
}

func (r *ingestRequest) validate() error {
	if r.FromAddr == "" {
		return apperr.New(apperr.CodeMissingField, "from_addr is required", 400)
	}
	if r.BodyText == "" && r.Subject == "" {
		return apperr.New(apperr.CodeMissingField, "subject or body_text is required", 400)
	}
	return nil
}

func (r *ingestRequest) toDomain() *domain.Message {
	externalID := r.ExternalID
	if externalID == "" {
		// Producers without stable ids still get idempotency via the
		// content fingerprint.
		externalID = "gen-" + uuid.NewString()
	}
	folder := r.Folder
	if folder == "" {
		folder = "INBOX"
	}
	receivedAt := time.Now().UTC()
	if r.ReceivedAt != nil {
		receivedAt = *r.ReceivedAt
	}
	return &domain.Message{
		ExternalID: externalID,
		Account:    r.Account,
		Folder:     folder,
		FromAddr:   r.FromAddr,
		FromName:   r.FromName,
		ToAddr:     r.ToAddr,
		Subject:    r.Subject,
		BodyText:   r.BodyText,
		BodyHTML:   r.BodyHTML,
		ReceivedAt: receivedAt,
		Status:     domain.MessageStatusNew,
	}
}

// Ingest runs one message through the full pipeline.
// POST /api/v1/messages
func (h *MessageHandler) Ingest(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return AppErrorResponse(c, err)
	}

	res, err := h.pipeline.Process(c.Context(), req.toDomain())
	if err != nil {
		if res != nil && res.MessageID != 0 {
			// The message is persisted and inspectable even though a later
			// stage failed.
			h.log.WithError(err).Error("pipeline failed after ingestion of message %d", res.MessageID)
			return c.Status(fiber.StatusAccepted).JSON(APIResponse{
				Success:   false,
				Data:      res,
				Error:     &APIError{Code: apperr.CodeInternalError, Message: "message stored, processing incomplete"},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		return InternalErrorResponse(c, err, "ingest")
	}

	status := fiber.StatusCreated
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Data:      res,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// IngestBatch runs a burst of messages through the pipeline.
// POST /api/v1/messages/batch
func (h *MessageHandler) IngestBatch(c *fiber.Ctx) error {
	var reqs []ingestRequest
	if err := c.BodyParser(&reqs); err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid request body")
	}
	if len(reqs) == 0 {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "empty batch")
	}

	msgs := make([]*domain.Message, 0, len(reqs))
	for i := range reqs {
		if err := reqs[i].validate(); err != nil {
			return AppErrorResponse(c, apperr.AsAppError(err).WithDetail("index", i))
		}
		msgs = append(msgs, reqs[i].toDomain())
	}

	results := h.pipeline.ProcessBatch(c.Context(), msgs)
	return SuccessResponse(c, fiber.Map{
		"count":   len(results),
		"results": results,
	})
}

// Status returns the triage state of one message, including its drafts.
// GET /api/v1/messages/:id
func (h *MessageHandler) Status(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid message id")
	}

	msg, err := h.messages.GetByID(c.Context(), int64(id))
	if err != nil {
		return AppErrorResponse(c, apperr.NotFound("message").WithError(err).WithDetail("message_id", id))
	}

	drafts, err := h.drafts.ListByMessage(c.Context(), msg.ID)
	if err != nil {
		return InternalErrorResponse(c, err, "list drafts")
	}

	return SuccessResponse(c, fiber.Map{
		"message":   msg,
		"sub_state": msg.SubState(),
		"drafts":    drafts,
	})
}

// Stats returns pipeline throughput counters from the event log.
// GET /api/v1/stats
func (h *MessageHandler) Stats(c *fiber.Ctx) error {
	counts, err := h.events.CountByType(c.Context())
	if err != nil {
		return InternalErrorResponse(c, err, "event stats")
	}
	return SuccessResponse(c, fiber.Map{"events": counts})
}
