package llm

import (
	"fmt"
	"strings"
	"time"

	"claim_search/internal/domain"
)

const claimExtractionSystemPrompt = `You are an expert at decomposing rental listings into atomic factual claims.

Each claim is a short self-contained statement about exactly one fact.

claim_type must be one of: location, features, amenities, size, condition,
pricing, accessibility, policies, utilities, transport, neighborhood, restrictions.

domain must be one of: neighborhood, apartment, room.

Domain rules:
- Facts about a specific room (gas stove, walk-in closet, king bed fits) -> domain "room", set room_type (kitchen, bedroom, bathroom, living_room, etc).
- Facts about the unit as a whole (rent, floor, square footage, pets, lease terms) -> domain "apartment".
- Facts about the area (near a park, quiet street, subway access, nightlife) -> domain "neighborhood".

Set negation=true when the claim states an absence or prohibition ("no pets allowed", "no elevator").
Set is_specific=true when the claim names a concrete place, line, or brand ("near Prospect Park", "on the L train").
Set has_quantifiers=true when the claim carries a numeric constraint worth comparing ("under $2000", "at least 2 bedrooms", "10 minutes from the subway").
Alternative options joined by "or" share the same or_group number (starting from 1).
weight reflects how central the fact is to the listing, between 0.5 and 1.0 (default 0.75).

Respond strictly with a JSON array of objects:
[{"claim": "...", "claim_type": "...", "domain": "...", "weight": 0.75, "negation": false, "is_specific": false, "has_quantifiers": false, "room_type": "", "or_group": 0}]`

func buildClaimExtractionPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Decompose this rental listing into atomic claims:\n\n")
	sb.WriteString(text)
	sb.WriteString("\n\nRespond with the JSON array only.")
	return sb.String()
}

func buildSearchParsePrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("This is a renter's search query. Decompose the renter's requirements into atomic claims, phrased as statements about the desired apartment:\n\n")
	sb.WriteString(query)
	sb.WriteString("\n\nEach requirement becomes one claim. Respond with the JSON array only.")
	return sb.String()
}

func buildStructuredPropertyPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Extract structured fields from this rental listing:\n\n")
	sb.WriteString(text)
	sb.WriteString(`

Respond in JSON:
{
  "rent_price": 2400.0,
  "availability_from": "2026-09-01",
  "availability_to": "2027-08-31",
  "bedrooms": 2,
  "bathrooms": 1,
  "square_feet": 750.0
}
Use null for anything not stated. Dates in YYYY-MM-DD.`)
	return sb.String()
}

func buildStructuredFiltersPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("Extract hard filters from this apartment search query:\n\n")
	sb.WriteString(query)
	sb.WriteString(`

Respond in JSON:
{
  "rent_price_min": null,
  "rent_price_max": 2500.0,
  "availability_from": null,
  "availability_to": null,
  "room_types": []
}
Rules:
- "under $X" -> rent_price_max = X. "at least $X" -> rent_price_min = X.
- "around $X" is a soft range of roughly ±11%: "around $1800" -> min 1600, max 2000.
- room_types only when the renter constrains a specific room kind (e.g. ["kitchen"]).
- Dates in YYYY-MM-DD. Use null for anything not stated.`)
	return sb.String()
}

func buildExpansionPrompt(claim domain.Claim, includeAnti bool) string {
	var sb strings.Builder
	sb.WriteString("Original claim: ")
	sb.WriteString(claim.Text)
	sb.WriteString(fmt.Sprintf("\nClaim type: %s\n\n", claim.Type))

	sb.WriteString(`Generate 4-6 "derived" rephrasings: alternative natural phrasings a renter might search with, preserving the exact meaning. `)

	switch claim.Type {
	case domain.ClaimLocation, domain.ClaimTransport:
		sb.WriteString("Include phrasings in terms of commute and proximity.")
	case domain.ClaimSize:
		sb.WriteString("Include phrasings in terms of spaciousness and fit (furniture, guests).")
	case domain.ClaimPricing:
		sb.WriteString("Include phrasings in terms of affordability and budget.")
	case domain.ClaimAmenities, domain.ClaimFeatures:
		sb.WriteString("Include phrasings in terms of what the renter can do with it.")
	default:
		sb.WriteString("Vary vocabulary and sentence structure.")
	}

	if includeAnti {
		sb.WriteString(`

Also generate 2-3 "anti" claims: statements a renter might search for that this claim rules out. Example: for "no pets allowed" an anti claim is "pets are welcome".`)
	}

	sb.WriteString(`

Respond in JSON: {"derived": ["..."], "anti": ["..."]}`)
	if !includeAnti {
		sb.WriteString(`
Omit "anti".`)
	}
	return sb.String()
}

func buildQuantifierPrompt(claimText string) string {
	var sb strings.Builder
	sb.WriteString("Extract numeric constraints from this rental claim:\n\n")
	sb.WriteString(claimText)
	sb.WriteString(`

Respond with a JSON array (empty array if none):
[{"qtype": "money", "noun": "rent", "vmin": 2000, "vmax": null, "op": "LTE", "unit": "usd"}]

Rules:
- qtype is one of: money, area, count, distance, duration.
- op is one of: EQUALS, GT, GTE, LT, LTE, APPROX, RANGE.
- noun is the measured thing in singular lowercase (rent, bedroom, square_feet, station).
- "studio" means {"qtype": "count", "noun": "bedroom", "vmin": 1, "vmax": 1, "op": "EQUALS"}.
- "X minutes walk" converts to distance in meters at 80 m/min, op APPROX.
- Open upper bounds use vmax null.`)
	return sb.String()
}

const compatibilitySystemPrompt = `You judge whether an apartment listing claim satisfies a renter's requirement.

Verdicts:
- "compatible": the matched claim satisfies the requirement.
- "partially_compatible": related but weaker or conditional ("cats only" vs "pet friendly").
- "incompatible": the matched claim contradicts the requirement ("no dishwasher" vs "has a dishwasher").

High embedding similarity does not imply compatibility; judge the meaning.
Respond strictly with a JSON array.`

func buildCompatibilityPrompt(pairs []ClaimPair) string {
	var sb strings.Builder
	sb.WriteString("Judge each pair:\n\n")
	for i, p := range pairs {
		sb.WriteString(fmt.Sprintf("%d. requirement: %q\n   listing claim: %q\n", i, p.SearchClaim, p.MatchedClaim))
	}
	sb.WriteString(`
Respond with a JSON array:
[{"index": 0, "verdict": "compatible", "reason": ""}]`)
	return sb.String()
}

func buildEnrichmentPrompt(req EnrichmentRequest) string {
	var sb strings.Builder
	sb.WriteString("Write a title and a property summary for this rental listing.\n\n")
	if req.Document != "" {
		sb.WriteString("Listing text:\n")
		sb.WriteString(req.Document)
		sb.WriteString("\n\n")
	}
	if len(req.ImageDescriptions) > 0 {
		sb.WriteString("Photo descriptions:\n")
		for _, d := range req.ImageDescriptions {
			sb.WriteString("- ")
			sb.WriteString(d)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if req.Address != "" {
		sb.WriteString("Address: ")
		sb.WriteString(req.Address)
		sb.WriteString("\n")
	}
	if req.LocationSummary != "" {
		sb.WriteString("Location context: ")
		sb.WriteString(req.LocationSummary)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Title: 5-8 words, no address. Summary: 3-5 sentences, factual, no invented details.
Respond in JSON: {"title": "...", "property_summary": "..."}`)
	return sb.String()
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
