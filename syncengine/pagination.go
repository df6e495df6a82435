package syncengine

import (
	"context"
	"sort"

	"roomsync/models"
)

const (
	// PageSize is the number of messages fetched per backward page.
	PageSize = 10
	pageNo   = 1
)

// BuildPullRequest returns the backward page request that ends just before
// watermark. Without a watermark the page ends at the most recent message.
func BuildPullRequest(roomID string, watermark int64, hasWatermark bool) models.PullMessageRequest {
	end := int64(-1)
	if hasWatermark {
		end = watermark
		if end > 1 {
			end--
		}
	}
	return models.PullMessageRequest{
		RoomID:         roomID,
		StartTimestamp: 0,
		EndTimestamp:   end,
		Pagination: models.Pagination{
			PageNo:   pageNo,
			PageSize: PageSize,
			Order:    models.PaginationOrderDesc,
		},
	}
}

// ParsePullResponse returns the well-formed messages of a pull response.
// Entries without an object data field or with an invalid message are
// dropped. A response without status or list is rejected as a whole.
func ParsePullResponse(response *models.PullMessageResponse) ([]models.ChatMessage, error) {
	const op = "PullMessage"

	if response == nil || response.Status == nil || response.List == nil {
		return nil, models.Errorf(models.KindInvalidResponse, op, "response is missing status or list")
	}
	if !models.IsSuccessStatus(*response.Status) {
		return nil, models.Errorf(models.KindInvalidResponse, op, "unexpected status %d", *response.Status)
	}

	messages := make([]models.ChatMessage, 0, len(response.List))
	for _, item := range response.List {
		request, err := models.DecodeSendMessageRequest(item.Data)
		if err != nil {
			continue
		}
		messages = append(messages, *request.Payload)
	}
	return messages, nil
}

func (e *Engine) fetchPage(ctx context.Context, op string, s *session, room models.RoomEntity) (int, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	e.mu.Lock()
	request := BuildPullRequest(s.roomID, s.watermark, s.hasWatermark)
	e.mu.Unlock()

	log := e.log.With().
		Str("room_id", s.roomID).
		Uint64("generation", s.generation).
		Int64("end_timestamp", request.EndTimestamp).
		Logger()

	response, err := e.options.Transport.PullMessage(ctx, request)
	if err != nil {
		return 0, models.NewError(models.KindTransport, op, err)
	}
	messages, err := ParsePullResponse(response)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		log.Debug().Msg("No older messages")
		return 0, nil
	}

	batch := make([]models.ChatMessage, 0, len(messages))
	for _, message := range messages {
		batch = append(batch, e.options.Decryptor.Decrypt(ctx, message, room))
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp < batch[j].Timestamp
	})

	if !e.merge(s, batch) {
		log.Debug().Int("count", len(batch)).Msg("Discarding page fetched for a closed session")
		return 0, nil
	}
	e.storeLatest(ctx, s.roomID, batch[len(batch)-1])

	log.Debug().Int("count", len(batch)).Msg("Merged page")
	return len(batch), nil
}

// merge appends batch to the session timeline, re-sorts it and lowers the
// watermark. It reports false when s is no longer the open session.
func (e *Engine) merge(s *session, batch []models.ChatMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != s {
		return false
	}
	if len(batch) == 0 {
		return true
	}

	oldest := batch[0].Timestamp
	for _, message := range batch[1:] {
		if message.Timestamp < oldest {
			oldest = message.Timestamp
		}
	}
	if !s.hasWatermark || oldest < s.watermark {
		s.watermark = oldest
		s.hasWatermark = true
	}

	s.timeline = append(s.timeline, batch...)
	sort.SliceStable(s.timeline, func(i, j int) bool {
		return s.timeline[i].Timestamp < s.timeline[j].Timestamp
	})
	return true
}
