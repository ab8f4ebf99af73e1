package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
	"github.com/MichaelRobotics/Hustler-sub011/internal/platform"
	"github.com/MichaelRobotics/Hustler-sub011/internal/util"
)

// LinkPlaceholder is the token in block message templates that link
// resolution replaces.
const LinkPlaceholder = "[LINK]"

// Fallback strings substituted for the placeholder when resolution cannot
// produce a URL. The raw placeholder must never reach the end user from the
// offer path.
const (
	FallbackResourceNotFound = "resource not found"
	FallbackResourceError    = "error loading resource"
	FallbackLinkUnavailable  = "link not available"
)

// ResourceCatalog is the slice of the store that link resolution needs.
type ResourceCatalog interface {
	GetResourceByName(name, experienceID string) (*models.Resource, error)
}

// LinkResolver substitutes the link placeholder in outgoing bot messages.
// Offer blocks get an affiliate-augmented resource link; transition messages
// get an internal chat URL or an app deep link.
type LinkResolver struct {
	catalog     ResourceCatalog
	lookup      platform.Lookup
	chatBaseURL string
}

// NewLinkResolver builds a resolver. chatBaseURL may be empty, in which case
// transition messages fall back to the app deep link chain.
func NewLinkResolver(catalog ResourceCatalog, lookup platform.Lookup, chatBaseURL string) *LinkResolver {
	return &LinkResolver{
		catalog:     catalog,
		lookup:      lookup,
		chatBaseURL: strings.TrimRight(chatBaseURL, "/"),
	}
}

// ResolveBlockMessage renders a destination block's message template. Only
// offer-stage blocks with a configured resource name get a real link; any
// other block containing the placeholder gets the generic fallback.
func (r *LinkResolver) ResolveBlockMessage(ctx context.Context, template string, block models.Block, stageName models.StageName, experienceID string) string {
	if !strings.Contains(template, LinkPlaceholder) {
		return template
	}
	if stageName != models.StageOffer || block.ResourceName == "" {
		return strings.ReplaceAll(template, LinkPlaceholder, FallbackLinkUnavailable)
	}
	return strings.ReplaceAll(template, LinkPlaceholder, r.resolveOfferLink(ctx, block.ResourceName, experienceID))
}

// resolveOfferLink produces the call-to-action text for an offer block. Every
// failure path yields a fallback string; this function never errors out of
// message formatting.
func (r *LinkResolver) resolveOfferLink(ctx context.Context, resourceName, experienceID string) string {
	res, err := r.catalog.GetResourceByName(resourceName, experienceID)
	if err != nil {
		slog.Error("LinkResolver.resolveOfferLink: resource lookup failed", "resource", resourceName, "experienceID", experienceID, "error", err)
		return FallbackResourceError
	}
	if res == nil {
		slog.Warn("LinkResolver.resolveOfferLink: resource not found", "resource", resourceName, "experienceID", experienceID)
		return FallbackResourceNotFound
	}

	link := res.Link
	if !HasAffiliateParams(link) {
		var appID string
		var err error
		if r.lookup != nil {
			appID, err = r.lookup.GetAffiliateAppID(ctx, experienceID)
		}
		if err != nil || appID == "" {
			// Fall back to the tenant id so the link still carries attribution.
			slog.Warn("LinkResolver.resolveOfferLink: affiliate lookup failed, using tenant id", "experienceID", experienceID, "error", err)
			appID = experienceID
		}
		link = AppendTrackingParam(link, appID)
	}
	return renderCallToAction(res.Name, link)
}

// ResolveTransitionMessage renders a transition message template. The
// placeholder resolves to an internal chat URL when one is configured,
// otherwise to an app deep link via the experience and company-route lookup
// chain. If that chain fails at any step the placeholder is left intact;
// a degraded message still gets delivered.
func (r *LinkResolver) ResolveTransitionMessage(ctx context.Context, template string, conv *models.Conversation) string {
	if !strings.Contains(template, LinkPlaceholder) {
		return template
	}
	if r.chatBaseURL != "" {
		chatURL := fmt.Sprintf("%s/experiences/%s/chat/%s", r.chatBaseURL, conv.ExperienceID, conv.ID)
		return strings.ReplaceAll(template, LinkPlaceholder, chatURL)
	}

	if r.lookup == nil {
		slog.Warn("LinkResolver.ResolveTransitionMessage: no platform lookup configured", "conversationID", conv.ID)
		return template
	}
	exp, err := r.lookup.GetExperience(ctx, conv.ExperienceID)
	if err != nil || exp == nil {
		slog.Warn("LinkResolver.ResolveTransitionMessage: experience lookup failed", "experienceID", conv.ExperienceID, "error", err)
		return template
	}
	route, err := r.lookup.GetCompanyRoute(ctx, exp.CompanyID)
	if err != nil || route == "" {
		slog.Warn("LinkResolver.ResolveTransitionMessage: company route lookup failed", "companyID", exp.CompanyID, "error", err)
		return template
	}
	deepLink := fmt.Sprintf("https://whop.com/%s/%s/app/", route, util.Slugify(exp.Name))
	return strings.ReplaceAll(template, LinkPlaceholder, deepLink)
}

// HasAffiliateParams reports whether a URL already carries affiliate tracking
// parameters. The probe is a substring check for app= or ref=.
func HasAffiliateParams(rawURL string) bool {
	return strings.Contains(rawURL, "app=") || strings.Contains(rawURL, "ref=")
}

// AppendTrackingParam appends an app=<affiliateAppID> query parameter to the
// URL. A URL that fails to parse is returned unmodified.
func AppendTrackingParam(rawURL, affiliateAppID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		slog.Warn("AppendTrackingParam: unparseable URL", "error", err)
		return rawURL
	}
	q := u.Query()
	q.Set("app", affiliateAppID)
	u.RawQuery = q.Encode()
	return u.String()
}

func renderCallToAction(name, link string) string {
	return fmt.Sprintf("👉 %s: %s", name, link)
}
