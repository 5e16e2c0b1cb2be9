// internal/contract/client.go
// Contract Client (SPEC_FULL.md §4.9): the external billing/market
// collaborator spec.md §1 puts out of scope for this repo. Grounded on
// original_source/src/contract.rs's submit_usage/add_service argument
// shape (service id, user key, price plan, usage window, counters) without
// carrying over its on-chain execution — that half is explicitly someone
// else's system. Library: none beyond stdlib; see DESIGN.md for why no
// pack RPC/SDK dependency applies to a deliberately out-of-scope collaborator.
package contract

import (
	"context"

	"github.com/apron-network/apron-gateway-go/internal/logging"
)

// Report is one usage window for one account, matching spec.md §3's
// UsageReport shape and original_source/src/contract.rs's submit_usage
// argument order.
type Report struct {
	ServiceID       string
	UserKey         string
	PricePlan       string
	StartTimestamp  int64 // microseconds since epoch
	EndTimestamp    int64
	AccessCount     int64
	UploadTraffic   int64
	DownloadTraffic int64
}

// ServiceArgs is the argument set original_source/src/contract.rs's
// add_service call would need for a newly-published ServiceRecord.
type ServiceArgs struct {
	ServiceID string
	OwnerPeer string
	PricePlan string
}

// Client is the contract collaborator's interface. SubmitUsage batches
// Report windows (spec.md §9: periodic, default 60s); AddService notifies
// the market contract of a new local service.
type Client interface {
	SubmitUsage(ctx context.Context, reports []Report) error
	AddService(ctx context.Context, args ServiceArgs) error
}

// noopClient logs instead of calling out to a chain endpoint. It is always
// used today: a real chain-backed Client is an external collaborator per
// spec.md §1's non-goals, not something this repo implements.
type noopClient struct {
	addr string
}

// New returns a Client. When addr is empty the client still satisfies the
// interface but every call is a cheap logged no-op (spec.md's "auto-disabled
// when addr empty").
func New(addr string) Client {
	return &noopClient{addr: addr}
}

func (c *noopClient) SubmitUsage(ctx context.Context, reports []Report) error {
	if c.addr == "" {
		logging.Sugar().Debugw("contract: no contract address configured, dropping usage batch", "count", len(reports))
		return nil
	}
	for _, r := range reports {
		logging.Sugar().Infow("contract: submit_usage",
			"contract_addr", c.addr,
			"service_id", r.ServiceID,
			"user_key", r.UserKey,
			"price_plan", r.PricePlan,
			"access_count", r.AccessCount,
			"upload_traffic", r.UploadTraffic,
			"download_traffic", r.DownloadTraffic,
		)
	}
	return nil
}

func (c *noopClient) AddService(ctx context.Context, args ServiceArgs) error {
	if c.addr == "" {
		logging.Sugar().Debugw("contract: no contract address configured, dropping add_service", "service_id", args.ServiceID)
		return nil
	}
	logging.Sugar().Infow("contract: add_service", "contract_addr", c.addr, "service_id", args.ServiceID, "owner_peer", args.OwnerPeer)
	return nil
}
