package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/totegamma/ortto-dashboard/internal/domain"
)

const (
	catalogPath     = "/v1/campaign/get-all"
	catalogPageSize = 50
	maxCatalogPages = 200
)

type catalogRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type catalogEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type catalogResponse struct {
	Campaigns  []catalogEntry `json:"campaigns"`
	HasMore    bool           `json:"has_more"`
	NextOffset int            `json:"next_offset"`
}

// ListItems pages through the upstream catalog and returns every campaign and journey.
func (c *Client) ListItems(ctx context.Context) ([]domain.ReportItem, error) {
	var items []domain.ReportItem
	seen := make(map[string]struct{})

	offset := 0
	for page := 0; page < maxCatalogPages; page++ {
		var resp catalogResponse
		status, err := c.post(ctx, catalogPath, catalogRequest{Limit: catalogPageSize, Offset: offset}, &resp)
		if err != nil {
			return nil, fmt.Errorf("failed to list catalog page %d: %w", page, err)
		}
		if status == http.StatusNotFound {
			break
		}

		for _, e := range resp.Campaigns {
			if e.ID == "" {
				continue
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			items = append(items, domain.ReportItem{ID: e.ID, Kind: catalogKind(e.Type)})
		}

		if !resp.HasMore || len(resp.Campaigns) == 0 {
			break
		}
		if resp.NextOffset > offset {
			offset = resp.NextOffset
		} else {
			offset += len(resp.Campaigns)
		}
	}
	return items, nil
}

func catalogKind(t string) domain.ReportKind {
	if kind, ok := domain.ParseReportKind(t); ok {
		return kind
	}
	// email, sms, push and other broadcast types are all campaigns
	return domain.KindCampaign
}
