package rediskey

import "fmt"

// Sequence counter keys (shared convention between the api and worker
// processes; changing a prefix resets the running counters).
const CampaignSequencePrefix = "seq:campaign"

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCampaignSequenceKey returns "seq:campaign:{tenantID}:{yyyymmdd}".
func BuildCampaignSequenceKey(tenantID, day string) string {
	return NamespaceKey(CampaignSequencePrefix, tenantID+":"+day)
}
