package taskname

const (
	// Campaign tasks
	CampaignDispatch = "campaign:dispatch"
	CampaignActivate = "campaign:activate"

	// Delivery tasks
	DeliveryReconcile = "delivery:reconcile"

	// Notification tasks
	CampaignLaunched  = "notification:campaign:launched"
	CampaignCancelled = "notification:campaign:cancelled"
)
