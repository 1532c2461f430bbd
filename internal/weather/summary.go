package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

const summaryCacheKey = "weather/summary"

// Summary is the island-wide weather report aggregated from all monitored
// locations.
type Summary struct {
	Timestamp     string                    `json:"timestamp"`
	Locations     map[string]LocationReport `json:"locations"`
	Alerts        []Alert                   `json:"alerts"`
	MonsoonStatus MonsoonStatus             `json:"monsoon_status"`
	FloodRisk     RiskAssessment            `json:"flood_risk_assessment"`
}

// LocationReport holds the current conditions for one monitored location.
type LocationReport struct {
	Name        string      `json:"name"`
	Region      string      `json:"region"`
	Coordinates Coordinates `json:"coordinates"`
	Current     Conditions  `json:"current"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Conditions is the subset of provider fields the summary reports.
type Conditions struct {
	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Humidity      int     `json:"humidity"`
	Pressure      int     `json:"pressure"`
	Description   string  `json:"description"`
	Icon          string  `json:"icon"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection int     `json:"wind_direction"`
	Clouds        int     `json:"clouds"`
	Visibility    int     `json:"visibility"`
	RainOneHour   float64 `json:"rain_1h"`
	RainThreeHour float64 `json:"rain_3h"`
}

// Alert is a rainfall advisory attached to the summary.
type Alert struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// MonsoonStatus describes the monsoon season in effect.
type MonsoonStatus struct {
	Season             string   `json:"season"`
	Active             bool     `json:"active"`
	AffectedRegions    []string `json:"affected_regions"`
	ExpectedConditions string   `json:"expected_conditions"`
	FloodProneAreas    []string `json:"flood_prone_areas"`
}

// RiskAssessment is the rainfall-derived flood risk for the island.
type RiskAssessment struct {
	OverallRisk       string  `json:"overall_risk"`
	LocationsWithRain int     `json:"locations_with_rain"`
	MaxRainfall       float64 `json:"max_rainfall_mm_per_hour"`
	MaxRainfallAt     string  `json:"max_rainfall_location"`
	EstimatedTotal    float64 `json:"estimated_24h_total_mm"`
}

// observation is the slice of an OpenWeatherMap current-conditions response
// the summary reads. Absent fields decode to zero values.
type observation struct {
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Visibility int `json:"visibility"`
	Rain       struct {
		OneHour   float64 `json:"1h"`
		ThreeHour float64 `json:"3h"`
	} `json:"rain"`
}

// MonsoonFor reports the monsoon season in effect at the given time. The
// southwest (Yala) monsoon runs May through September and the northeast
// (Maha) monsoon October through January, with an inter-monsoon transition
// between them.
func MonsoonFor(now time.Time) MonsoonStatus {
	month := now.Month()

	switch {
	case month >= time.May && month <= time.September:
		return MonsoonStatus{
			Season: "Southwest Monsoon (Yala)",
			Active: true,
			AffectedRegions: []string{
				"Western Province", "Southern Province",
				"Sabaragamuwa Province", "Central Province (western slopes)",
			},
			ExpectedConditions: "Heavy rainfall in southwestern Sri Lanka, drier conditions in north and east",
			FloodProneAreas:    []string{"Colombo", "Galle", "Ratnapura", "Kalutara"},
		}
	case month >= time.October || month == time.January:
		return MonsoonStatus{
			Season: "Northeast Monsoon (Maha)",
			Active: true,
			AffectedRegions: []string{
				"Northern Province", "Eastern Province",
				"North Central Province", "Uva Province",
			},
			ExpectedConditions: "Heavy rainfall in northern and eastern Sri Lanka",
			FloodProneAreas:    []string{"Batticaloa", "Trincomalee", "Jaffna", "Anuradhapura"},
		}
	default:
		return MonsoonStatus{
			Season:             "First Inter-monsoon",
			Active:             false,
			AffectedRegions:    []string{"Entire island"},
			ExpectedConditions: "Transitional period with scattered thunderstorms, particularly in afternoons",
			FloodProneAreas:    []string{"Central highlands", "Wet zone lowlands"},
		}
	}
}

// Summary aggregates current conditions across every monitored location into
// the island-wide report. Locations whose provider call fails are skipped so
// a single outage does not lose the whole report.
func (s *Service) Summary(ctx context.Context) ([]byte, error) {
	if !s.Enabled() {
		return nil, DisabledError{}
	}

	if data, ok := s.store.Get(ctx, summaryCacheKey); ok {
		return data, nil
	}

	now := time.Now().UTC()

	summary := Summary{
		Timestamp:     now.Format(time.RFC3339),
		Locations:     make(map[string]LocationReport, len(monitored)),
		Alerts:        []Alert{},
		MonsoonStatus: MonsoonFor(now),
	}

	var (
		estimatedTotal float64
		raining        int
		maxRainfall    float64
		maxRainfallAt  string
	)

	for _, loc := range monitored {
		raw, err := s.Current(ctx, loc)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("location", loc.ID).
				Msg("skipping location in weather summary")
			continue
		}

		var obs observation
		if err := json.Unmarshal(raw, &obs); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("location", loc.ID).
				Msg("skipping location in weather summary")
			continue
		}

		summary.Locations[loc.ID] = reportFor(loc, obs)

		if obs.Rain.OneHour > 0 {
			raining++
			// rough 24h projection from the current hourly rate
			estimatedTotal += obs.Rain.OneHour * 24
			if obs.Rain.OneHour > maxRainfall {
				maxRainfall = obs.Rain.OneHour
				maxRainfallAt = loc.Name
			}
		}
	}

	risk := "LOW"
	switch {
	case estimatedTotal > 100 || maxRainfall > 20:
		risk = "HIGH"
		summary.Alerts = append(summary.Alerts, Alert{
			Type:     "FLOOD_WARNING",
			Message:  fmt.Sprintf("Heavy rainfall detected. %s recording %gmm/h", maxRainfallAt, maxRainfall),
			Severity: "high",
		})
	case estimatedTotal > 50 || maxRainfall > 10:
		risk = "MODERATE"
		summary.Alerts = append(summary.Alerts, Alert{
			Type:     "FLOOD_WATCH",
			Message:  "Moderate rainfall across Sri Lanka. Monitor flood-prone areas.",
			Severity: "moderate",
		})
	case raining >= 5:
		risk = "ELEVATED"
		summary.Alerts = append(summary.Alerts, Alert{
			Type:     "RAIN_ADVISORY",
			Message:  "Widespread rainfall detected across multiple regions.",
			Severity: "low",
		})
	}

	summary.FloodRisk = RiskAssessment{
		OverallRisk:       risk,
		LocationsWithRain: raining,
		MaxRainfall:       maxRainfall,
		MaxRainfallAt:     maxRainfallAt,
		EstimatedTotal:    math.Round(estimatedTotal*10) / 10,
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding weather summary: %w", err)
	}

	s.store.SetTTL(ctx, summaryCacheKey, data, summaryTTL)

	return data, nil
}

func reportFor(loc Location, obs observation) LocationReport {
	current := Conditions{
		Temperature:   obs.Main.Temp,
		FeelsLike:     obs.Main.FeelsLike,
		Humidity:      obs.Main.Humidity,
		Pressure:      obs.Main.Pressure,
		WindSpeed:     obs.Wind.Speed,
		WindDirection: obs.Wind.Deg,
		Clouds:        obs.Clouds.All,
		Visibility:    obs.Visibility,
		RainOneHour:   obs.Rain.OneHour,
		RainThreeHour: obs.Rain.ThreeHour,
	}
	if len(obs.Weather) > 0 {
		current.Description = obs.Weather[0].Description
		current.Icon = obs.Weather[0].Icon
	}

	return LocationReport{
		Name:        loc.Name,
		Region:      loc.Region,
		Coordinates: Coordinates{Lat: loc.Lat, Lon: loc.Lon},
		Current:     current,
	}
}
