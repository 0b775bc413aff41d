package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuctionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctions_created_total",
		Help: "Total number of auctions created, by initial status",
	}, []string{"status"})

	AuctionsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctions_deleted_total",
		Help: "Total number of auctions deleted by their seller",
	})

	BidsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bids_accepted_total",
		Help: "Total number of accepted bids",
	})

	BidsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bids_rejected_total",
		Help: "Total number of rejected bids",
	}, []string{"reason"})

	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bid_latency_seconds",
		Help:    "Latency of the locked check-and-update for a bid",
		Buckets: prometheus.DefBuckets,
	})

	AuctionsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctions_resolved_total",
		Help: "Total number of expired auctions resolved, by outcome",
	}, []string{"outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep",
		Buckets: prometheus.DefBuckets,
	})

	PostSaleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "post_sale_transitions_total",
		Help: "Total number of post-sale transitions, by kind",
	}, []string{"kind"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications handed to the notification channel",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
