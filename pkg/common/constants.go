package common

const (
	RedisStreamSignalBroadcast = "refinery.signal.broadcast"

	SettingNextIntervalMs = "next_interval_ms"
	SettingLastDigestAt   = "last_digest_at"
	SettingLastJanitorAt  = "last_janitor_at"

	ChannelTypeChat    = "chat"
	ChannelTypeFeed    = "feed"
	ChannelTypeWebhook = "webhook"

	ChannelStatusActive  = "active"
	ChannelStatusIgnored = "ignored"

	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"

	// PDFSentinel marks items whose document body has not been
	// extracted yet; they are picked up again by forced re-analysis.
	PDFSentinel = "[PDF DOCUMENT]"
)
