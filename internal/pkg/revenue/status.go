package revenue

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/financebee/app/models"
)

// ProviderStatusToSubscriptionStatus maps a provider subscription status
// onto the internal status enum.
func ProviderStatusToSubscriptionStatus(providerStatus string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive, nil
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue, nil
	case "canceled", "cancelled":
		return models.SubscriptionStatusCanceled, nil
	case "incomplete_expired", "expired":
		return models.SubscriptionStatusExpired, nil
	default:
		return "", fmt.Errorf("unmapped provider subscription status %q", providerStatus)
	}
}
