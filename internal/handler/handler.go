package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"rollcall/internal/apperr"
	"rollcall/internal/dto"
	"rollcall/internal/service"
	"rollcall/pkg/validator"
)

// Handler binds the HTTP surface to the attendance and stats services.
type Handler struct {
	attendance *service.Attendance
	stats      *service.Stats
	log        *zerolog.Logger
}

func New(attendance *service.Attendance, stats *service.Stats, log *zerolog.Logger) *Handler {
	return &Handler{attendance: attendance, stats: stats, log: log}
}

func pathID(ctx *ginext.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid ID in path")
		return 0, false
	}
	return id, true
}

func (h *Handler) CheckIn(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req dto.CheckInRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		h.log.Error().Err(err).Msg("failed to parse check-in request")
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}
	req.EventID = eventID

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	resp, err := h.attendance.CheckIn(ctx.Request.Context(), &req)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessCreatedResponse(ctx, resp)
}

func (h *Handler) CheckOut(ctx *ginext.Context) {
	attendanceID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req dto.CheckOutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}
	req.AttendanceID = attendanceID

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	rec, err := h.attendance.CheckOut(ctx.Request.Context(), &req)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, rec)
}

func (h *Handler) Validate(ctx *ginext.Context) {
	attendanceID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req dto.ValidateAttendanceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}
	req.AttendanceID = attendanceID

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	rec, err := h.attendance.ValidateAttendance(ctx.Request.Context(), &req)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, rec)
}

func (h *Handler) BulkValidate(ctx *ginext.Context) {
	var req dto.BulkValidateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	result := h.attendance.BulkValidate(ctx.Request.Context(), &req)
	dto.SuccessResponse(ctx, result)
}

func (h *Handler) Feedback(ctx *ginext.Context) {
	attendanceID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req dto.FeedbackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}
	req.AttendanceID = attendanceID

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	rec, err := h.attendance.AddFeedback(ctx.Request.Context(), &req)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, rec)
}

func (h *Handler) MarkAbsentees(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	var req dto.MarkAbsenteesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid JSON format")
		return
	}
	req.EventID = eventID

	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	created, err := h.attendance.MarkAbsentees(ctx.Request.Context(), &req)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessCreatedResponse(ctx, dto.MarkAbsenteesResponse{Created: created})
}

func (h *Handler) EventStats(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	stats, err := h.stats.EventStats(ctx.Request.Context(), eventID)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, stats)
}

func (h *Handler) EventReport(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	from, ok := queryTime(ctx, "from")
	if !ok {
		return
	}
	to, ok := queryTime(ctx, "to")
	if !ok {
		return
	}

	report, err := h.stats.EventReport(ctx.Request.Context(), eventID, from, to)
	if err != nil {
		dto.TypedError(ctx, err)
		return
	}
	dto.SuccessResponse(ctx, report)
}

// queryTime parses an optional RFC3339 query parameter; absence is the
// zero time, which downstream treats as an open bound.
func queryTime(ctx *ginext.Context, name string) (time.Time, bool) {
	raw := ctx.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("Invalid %s, expected RFC3339", name))
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) Health(ctx *ginext.Context) {
	dto.SuccessResponse(ctx, map[string]string{"status": "up"})
}

// RecomputeStats forces a synchronous aggregate rebuild, bypassing the
// queue. Mostly useful for operators.
func (h *Handler) RecomputeStats(ctx *ginext.Context) {
	eventID, ok := pathID(ctx)
	if !ok {
		return
	}

	stats, err := h.stats.RecomputeEventStats(ctx.Request.Context(), eventID)
	if err != nil {
		if apperr.IsTyped(err) {
			dto.TypedError(ctx, err)
			return
		}
		h.log.Error().Err(err).Int64("event_id", eventID).Msg("forced stats recompute failed")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, stats)
}
