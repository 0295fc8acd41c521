package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/sizing"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/types"
)

const maxQuoteBody = 64 << 10

// validateIntake normalises and checks a quote intake. Peak sun hours are
// not rejected when non-positive; the calculator clamps them.
func validateIntake(in *types.QuoteIntake) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name == "" {
		return errors.New("name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return errors.New("a valid email is required")
	}
	switch in.Channel {
	case "":
		in.Channel = types.QuoteChannelEmail
	case types.QuoteChannelEmail:
	case types.QuoteChannelWhatsApp:
		if in.Phone == "" {
			return errors.New("phone is required for whatsapp delivery")
		}
	default:
		return fmt.Errorf("unknown channel: %s", in.Channel)
	}
	if !validConsumption(in.MonthlyConsumptionKWh) {
		return errMonthlyConsumption
	}
	if !isFinite(in.PeakSunHours) || in.PeakSunHours > 24 {
		return errors.New("peakSunHours must be at most 24")
	}
	if !isFinite(in.RoofAreaM2) || in.RoofAreaM2 < 0 {
		return errors.New("roofAreaM2 must not be negative")
	}
	return nil
}

var errMonthlyConsumption = fmt.Errorf("monthlyConsumptionKWh must be positive and at most %g", sizing.MaxMonthlyConsumptionKWh)

func validConsumption(v float64) bool {
	return isFinite(v) && v > 0 && v <= sizing.MaxMonthlyConsumptionKWh
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var intake types.QuoteIntake
	r.Body = http.MaxBytesReader(w, r.Body, maxQuoteBody)
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateIntake(&intake); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sized := s.sizer.SizeDetailed(intake.MonthlyConsumptionKWh, intake.PeakSunHours)
	quote := types.Quote{
		ID:        s.newID(),
		CreatedAt: s.now().UTC(),
		Intake:    intake,
		Sizing:    sized,
		FitsRoof:  intake.RoofAreaM2 == 0 || sized.InstallationAreaM2 <= intake.RoofAreaM2,
	}

	if err := s.storage.InsertQuote(ctx, quote, types.CurrentQuoteVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store quote", slog.Any("error", err))
		writeJSONError(w, "failed to store quote", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"quote created",
		slog.String("quoteID", quote.ID),
		slog.Int("panelCount", sized.PanelCount),
		slog.Float64("systemKW", sized.SystemKW),
	)

	// delivery is retried downstream, the quote itself is already saved
	if err := s.publisher.PublishQuote(ctx, quote); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to publish quote", slog.String("quoteID", quote.ID), slog.Any("error", err))
	}

	writeJSON(w, http.StatusCreated, quote)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSONError(w, "invalid quote id", http.StatusBadRequest)
		return
	}
	quote, err := s.storage.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrQuoteNotFound) {
			writeJSONError(w, "quote not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get quote", slog.Any("error", err))
		writeJSONError(w, "failed to get quote", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// handlePreviewQuote sizes without storing anything, for the live intake
// form.
func (s *Server) handlePreviewQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	monthly, err := strconv.ParseFloat(q.Get("monthlyConsumptionKWh"), 64)
	if err != nil || !validConsumption(monthly) {
		writeJSONError(w, errMonthlyConsumption.Error(), http.StatusBadRequest)
		return
	}
	var psh float64
	if v := q.Get("peakSunHours"); v != "" {
		psh, err = strconv.ParseFloat(v, 64)
		if err != nil || !isFinite(psh) || psh > 24 {
			writeJSONError(w, "invalid peakSunHours", http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.sizer.Size(monthly, psh))
}
