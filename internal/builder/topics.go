package builder

import "github.com/gleamora/push-pipeline/internal/domain"

// Broadcast topic names. Devices subscribe to these through the mobile
// clients; the pipeline only addresses them.
const (
	TopicAllUsers   = "all-users"
	TopicPromotions = "promotions"
	TopicSeasonal   = "seasonal"
	TopicEngagement = "engagement"
)

var knownTopics = map[string]struct{}{
	TopicAllUsers:   {},
	TopicPromotions: {},
	TopicSeasonal:   {},
	TopicEngagement: {},
}

var kindTopics = map[domain.Kind]string{
	domain.KindPromotional:            TopicPromotions,
	domain.KindGoldPriceBroadcast:     TopicPromotions,
	domain.KindNewCollectionBroadcast: TopicPromotions,
	domain.KindSeasonalBroadcast:      TopicSeasonal,
}

// IsKnownTopic reports whether name is a topic the clients subscribe to.
func IsKnownTopic(name string) bool {
	_, ok := knownTopics[name]
	return ok
}

// resolveTopicName picks the broadcast topic for a request. An override is
// honored when it names a known topic; an unknown override falls back to the
// all-users topic because a broadcast must always reach some audience.
// Returns the topic and whether an invalid override was replaced.
func resolveTopicName(req *domain.NotificationRequest) (string, bool) {
	if override := req.Options.TopicOverride; override != "" {
		if IsKnownTopic(override) {
			return override, false
		}
		return TopicAllUsers, true
	}

	if topic, ok := kindTopics[req.Kind]; ok {
		return topic, false
	}
	return TopicAllUsers, false
}
