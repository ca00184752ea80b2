package connection

import (
	"errors"
	"fmt"

	"example.com/fitsync/internal/domain"
)

const (
	VariantDefault     = "default"
	VariantDestructive = "destructive"
)

// Notice is the user-facing outcome of an action.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}

func displayName(provider domain.Provider) string {
	switch provider {
	case domain.ProviderStrava:
		return "Strava"
	case domain.ProviderGarmin:
		return "Garmin"
	}
	return string(provider)
}

func connectedNotice(provider domain.Provider) Notice {
	return Notice{
		Title:       "Success!",
		Description: fmt.Sprintf("Your %s account has been connected.", displayName(provider)),
		Variant:     VariantDefault,
	}
}

func connectFailedNotice(provider domain.Provider, err error) Notice {
	return Notice{
		Title:       "Connection Failed",
		Description: fmt.Sprintf("Failed to connect your %s account. %s", displayName(provider), reason(err)),
		Variant:     VariantDestructive,
	}
}

func disconnectedNotice(provider domain.Provider) Notice {
	return Notice{
		Title:       "Success!",
		Description: fmt.Sprintf("Your %s account has been disconnected.", displayName(provider)),
		Variant:     VariantDefault,
	}
}

func disconnectFailedNotice(provider domain.Provider, err error) Notice {
	return Notice{
		Title:       "Error",
		Description: fmt.Sprintf("Failed to disconnect your %s account: %s", displayName(provider), reason(err)),
		Variant:     VariantDestructive,
	}
}

func syncNotice(provider domain.Provider, result SyncResult) Notice {
	if provider == domain.ProviderGarmin {
		return Notice{
			Title:       "Sync Started",
			Description: "Your Garmin data synchronization has been initiated.",
			Variant:     VariantDefault,
		}
	}
	switch {
	case result.Degraded:
		return Notice{
			Title:       "Sync Incomplete",
			Description: "Activities were fetched but could not be saved.",
			Variant:     VariantDestructive,
		}
	case result.FetchErr != nil:
		return Notice{
			Title:       "Sync Incomplete",
			Description: fmt.Sprintf("Fetched %d page(s) before an error: %s", result.PagesFetched, reason(result.FetchErr)),
			Variant:     VariantDestructive,
		}
	}
	return Notice{
		Title:       "Sync Complete",
		Description: fmt.Sprintf("%d activities loaded.", len(result.Activities)),
		Variant:     VariantDefault,
	}
}

func syncFailedNotice(provider domain.Provider, err error) Notice {
	if provider == domain.ProviderStrava {
		description := "Failed to fetch activities"
		if errors.Is(err, domain.ErrTokenRefreshFailed) {
			description = "Failed to refresh Strava token"
		}
		return Notice{Title: "Error", Description: description, Variant: VariantDestructive}
	}
	return Notice{
		Title:       "Sync Failed",
		Description: fmt.Sprintf("Failed to sync your %s data: %s", displayName(provider), reason(err)),
		Variant:     VariantDestructive,
	}
}

// reason extracts the user-presentable part of err.
func reason(err error) string {
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) && upstream.Message != "" {
		return upstream.Message
	}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return validation.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
