package domain

import (
	"time"
)

// LinkType is the physical link the device is currently on.
type LinkType string

const (
	LinkWiFi     LinkType = "wifi"
	LinkCellular LinkType = "cellular"
	LinkEthernet LinkType = "ethernet"
	LinkNone     LinkType = "none"
	LinkUnknown  LinkType = "unknown"
)

// Quality classifies usable link quality. Values are ordered so that a
// minimum-quality gate is a simple comparison.
type Quality int

const (
	QualityOffline Quality = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

// Name returns a human-readable name for the quality level.
func (q Quality) Name() string {
	switch q {
	case QualityOffline:
		return "offline"
	case QualityPoor:
		return "poor"
	case QualityFair:
		return "fair"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ParseQuality converts a name to a Quality, defaulting to fair.
func ParseQuality(s string) Quality {
	switch s {
	case "offline":
		return QualityOffline
	case "poor":
		return QualityPoor
	case "good":
		return QualityGood
	case "excellent":
		return QualityExcellent
	default:
		return QualityFair
	}
}

// NetworkStatus is a point-in-time connectivity snapshot. It is derived
// fresh on every link event and probe, never persisted.
type NetworkStatus struct {
	Connected         bool      `json:"connected"`
	InternetReachable bool      `json:"internet_reachable"`
	Link              LinkType  `json:"link"`
	Quality           Quality   `json:"quality"`
	CheckedAt         time.Time `json:"checked_at"`
}
