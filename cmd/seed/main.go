package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/sunwise/sunwise/pkg/integration"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/sizing"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/telemetry"
	"github.com/sunwise/sunwise/pkg/types"
)

// demoUserID matches the user the server acts as when auth is bypassed.
const demoUserID = "demo"

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	solarCfg := solar.Configured()
	tel := telemetry.Configured(solarCfg)
	s := storage.Configured()
	reg := integration.Configured(s, tel)
	sizer := sizing.Configured(solarCfg)
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	integrations := []struct {
		provider   types.ProviderTag
		credential string
	}{
		{types.ProviderTelemetry, telemetry.SandboxPrefix + demoUserID},
		{types.ProviderForecast, ""},
		{types.ProviderSmartMeter, "sandbox-meter"},
	}
	for _, i := range integrations {
		if _, err := reg.Connect(ctx, demoUserID, i.provider, i.credential, nil); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed integration", "provider", i.provider, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded integration %s for %s\n", i.provider, demoUserID)
	}

	// a few quotes across typical household consumptions
	names := []string{"Jeanne Martin", "Louis Bernard", "Camille Petit"}
	for n, name := range names {
		monthly := 250 + rand.Float64()*900
		psh := 3 + rand.Float64()*2.5
		roof := 15 + rand.Float64()*30
		sized := sizer.SizeDetailed(monthly, psh)
		quote := types.Quote{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().Add(-time.Duration(n) * 24 * time.Hour).UTC(),
			Intake: types.QuoteIntake{
				Name:                  name,
				Email:                 fmt.Sprintf("client%d@example.com", n+1),
				Channel:               types.QuoteChannelEmail,
				MonthlyConsumptionKWh: monthly,
				PeakSunHours:          psh,
				RoofAreaM2:            roof,
			},
			Sizing:   sized,
			FitsRoof: sized.InstallationAreaM2 <= roof,
		}
		if err := s.InsertQuote(ctx, quote, types.CurrentQuoteVersion); err != nil && !errors.Is(err, storage.ErrQuoteExists) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed quote", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded quote %s: %.0f kWh/month -> %d panels (%.1f kW)\n",
			quote.ID, monthly, sized.PanelCount, sized.SystemKW)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
