package analytics

import (
	"sort"
	"time"
)

// StatsReport aggregates usage over a date range.
type StatsReport struct {
	PeriodStart            time.Time      `json:"period_start"`
	PeriodEnd              time.Time      `json:"period_end"`
	TotalConversations     int            `json:"total_conversations"`
	TotalMessages          int            `json:"total_messages"`
	AvgMessagesPerConv     float64        `json:"avg_messages_per_conversation"`
	MedianMessagesPerConv  float64        `json:"median_messages_per_conversation"`
	AvgResponseTimeMs      float64        `json:"avg_response_time_ms"`
	TotalBlocked           int            `json:"total_blocked"`
	DomainsBreakdown       map[string]int `json:"domains_breakdown"`
}

// Service computes reports over stored conversation logs.
type Service struct {
	storage *Storage
}

// NewService wraps a Storage.
func NewService(storage *Storage) *Service {
	return &Service{storage: storage}
}

// GetStats aggregates all conversations with activity in [from, to].
func (s *Service) GetStats(from, to time.Time) (*StatsReport, error) {
	logs, err := s.storage.ListRecent(from, to, 0, 0)
	if err != nil {
		return nil, err
	}

	report := &StatsReport{
		PeriodStart:      from,
		PeriodEnd:        to,
		DomainsBreakdown: make(map[string]int),
	}

	var counts []int
	var totalResponseTime float64
	var totalTurns int

	for _, log := range logs {
		report.TotalConversations++
		report.TotalMessages += len(log.Messages)
		counts = append(counts, len(log.Messages))

		totalResponseTime += log.TotalResponseTimeMs
		totalTurns += log.TotalTurns

		if log.BlockedAtStage != "" {
			report.TotalBlocked++
		}
		for _, msg := range log.Messages {
			if msg.Role == "assistant" && msg.Domain != "" {
				report.DomainsBreakdown[msg.Domain]++
			}
		}
	}

	if report.TotalConversations > 0 {
		report.AvgMessagesPerConv = float64(report.TotalMessages) / float64(report.TotalConversations)
		report.MedianMessagesPerConv = median(counts)
	}
	if totalTurns > 0 {
		report.AvgResponseTimeMs = totalResponseTime / float64(totalTurns)
	}

	return report, nil
}

func median(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Ints(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return float64(values[mid])
	}
	return float64(values[mid-1]+values[mid]) / 2
}
