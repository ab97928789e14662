package sources

import "github.com/JakeFAU/ota-answers-crawler/internal/extract"

var travelAllow = []string{
	"booking", "booked", "reservation", "cancel", "refund", "tour", "guide",
	"activity", "experience", "ticket", "itinerary", "operator", "supplier",
	"host", "guest", "listing", "check-in", "checkout", "payout", "review",
	"airbnb", "viator", "getyourguide", "tripadvisor",
}

var offTopicDeny = []string{
	"wifi", "wi-fi", "mobile signal", "cell signal", "sim card", "roaming",
	"<script", "function(", "document.getelementbyid", "window.location", "window.__",
}

func communityRelevance() *extract.Relevance {
	return &extract.Relevance{Allow: travelAllow, Deny: offTopicDeny}
}
