package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"eyeclinic/internal/booking"
	"eyeclinic/internal/export"
	"eyeclinic/internal/metrics"
	"eyeclinic/internal/model"
	"eyeclinic/internal/slots"

	"github.com/go-chi/chi/v5"
)

// ServiceResponse is one entry of the service catalog.
type ServiceResponse struct {
	Kind       model.ServiceKind `json:"kind"`
	Label      string            `json:"label"`
	Minutes    int               `json:"minutes"`
	Duration   string            `json:"duration"`
	PricePence int64             `json:"price_pence"`
	Price      string            `json:"price"`
}

// SlotsResponse is the reply of GET /api/v1/slots.
type SlotsResponse struct {
	Date    model.Date        `json:"date"`
	Service model.ServiceKind `json:"service"`
	Minutes int               `json:"minutes"`
	Slots   []slots.SlotInfo  `json:"slots"`
}

// DayUpdate is one server-sent event of the diary stream.
type DayUpdate struct {
	Date         model.Date          `json:"date"`
	Appointments []model.Appointment `json:"appointments"`
}

// GET /api/v1/services
func (s *HTTPServer) handleServices(w http.ResponseWriter, _ *http.Request) {
	metrics.IncHTTP("services")
	list := s.booking.Services()
	out := make([]ServiceResponse, 0, len(list))
	for _, svc := range list {
		out = append(out, ServiceResponse{
			Kind:       svc.Kind,
			Label:      svc.Label,
			Minutes:    svc.Minutes,
			Duration:   slots.FormatDuration(svc.Minutes),
			PricePence: svc.PricePence,
			Price:      svc.PriceLabel(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

// GET /api/v1/days/{date}
func (s *HTTPServer) handleDay(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("day")
	date, err := parseDateParam("date", chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.booking.Day(date))
}

// GET /api/v1/slots?date=YYYY-MM-DD&service=private
func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots")
	q := r.URL.Query()
	date, err := parseDateParam("date", q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := model.ServiceKind(q.Get("service"))
	if kind == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	starts, err := s.booking.Slots(r.Context(), date, kind)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	minutes, _ := s.rules.Current().DurationOf(kind)
	writeJSON(w, http.StatusOK, SlotsResponse{
		Date:    date,
		Service: kind,
		Minutes: minutes,
		Slots:   slots.ToSlotInfo(starts, minutes),
	})
}

func (s *HTTPServer) dateOrToday(r *http.Request) (model.Date, error) {
	if v := r.URL.Query().Get("date"); v != "" {
		return parseDateParam("date", v)
	}
	return s.booking.Today(), nil
}

// GET /api/v1/diary?date=YYYY-MM-DD
func (s *HTTPServer) handleDiary(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("diary")
	date, err := s.dateOrToday(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := s.booking.Diary(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /api/v1/diary/stream?date=YYYY-MM-DD
//
// Sends the day's appointments as a server-sent event on connect and after
// every change until the client goes away.
func (s *HTTPServer) handleDiaryStream(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("diary_stream")
	date, err := s.dateOrToday(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, err := s.booking.WatchDay(r.Context(), date)
	if errors.Is(err, booking.ErrNoChangeFeed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for appts := range updates {
		data, err := json.Marshal(DayUpdate{Date: date, Appointments: appts})
		if err != nil {
			s.logger.Error().Err(err).Msg("encode diary update")
			return
		}
		if _, err := fmt.Fprintf(w, "event: diary\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// GET /api/v1/diary/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleDiaryExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("diary_export")
	q := r.URL.Query()
	from, err := parseDateParam("from", q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to := from
	if v := q.Get("to"); v != "" {
		if to, err = parseDateParam("to", v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "from must be before or equal to to")
		return
	}
	if from.AddDays(MaxExportDays-1).Before(to) {
		writeError(w, http.StatusBadRequest, "date range exceeds maximum of "+strconv.Itoa(MaxExportDays)+" days")
		return
	}

	days, err := s.booking.DiaryRange(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteDiary(&buf, s.rules.Current(), days); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="diary_%s_%s.xlsx"`, from, to))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
