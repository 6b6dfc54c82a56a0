package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"custodex.com/internal/ledger/service"
	"custodex.com/pkg/common"
	"custodex.com/pkg/xerr"
)

type depositReq struct {
	Owner   string   `json:"owner"`
	Assets  []string `json:"assets"`
	Amounts []string `json:"amounts"`
}

type nativeReq struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type withdrawReq struct {
	Asset  string `json:"asset"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type transferReq struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type addAssetReq struct {
	Asset string `json:"asset"`
}

type handler struct {
	svc *service.Service
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.FailFromErr(c, xerr.Validation(map[string]string{"body": err.Error()}))
		return false
	}
	return true
}

// reply 变更类操作即使失败也可能带回 handle（结算层不可用时），放在错误 data 里
func reply(c *gin.Context, data any, err error) {
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, data)
}

func (h *handler) deposit(c *gin.Context) {
	var req depositReq
	if !bind(c, &req) {
		return
	}
	sub, err := h.svc.DepositBatch(c.Request.Context(), callerOf(c), req.Owner, req.Assets, req.Amounts)
	reply(c, sub, err)
}

func (h *handler) depositNative(c *gin.Context) {
	var req nativeReq
	if !bind(c, &req) {
		return
	}
	sub, err := h.svc.DepositNative(c.Request.Context(), callerOf(c), req.Owner, req.Amount)
	reply(c, sub, err)
}

func (h *handler) withdraw(c *gin.Context) {
	var req withdrawReq
	if !bind(c, &req) {
		return
	}
	sub, err := h.svc.Withdraw(c.Request.Context(), callerOf(c), req.Asset, req.Owner, req.Amount)
	reply(c, sub, err)
}

func (h *handler) withdrawNative(c *gin.Context) {
	var req nativeReq
	if !bind(c, &req) {
		return
	}
	sub, err := h.svc.WithdrawNative(c.Request.Context(), callerOf(c), req.Owner, req.Amount)
	reply(c, sub, err)
}

func (h *handler) transfer(c *gin.Context) {
	var req transferReq
	if !bind(c, &req) {
		return
	}
	sub, err := h.svc.Transfer(c.Request.Context(), callerOf(c), req.Asset, req.From, req.To, req.Amount)
	reply(c, sub, err)
}

func (h *handler) addAsset(c *gin.Context) {
	var req addAssetReq
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.AddSupportedAsset(c.Request.Context(), callerOf(c), req.Asset)
	reply(c, res, err)
}

func (h *handler) allBalances(c *gin.Context) {
	views, err := h.svc.GetAllBalances(c.Request.Context(), callerOf(c), c.Param("owner"))
	reply(c, views, err)
}

func (h *handler) balance(c *gin.Context) {
	view, err := h.svc.GetBalance(c.Request.Context(), callerOf(c), c.Param("owner"), c.Param("asset"))
	reply(c, view, err)
}

func (h *handler) transactions(c *gin.Context) {
	limit, lerr := queryInt(c, "limit")
	offset, oerr := queryInt(c, "offset")
	if lerr != nil || oerr != nil {
		common.FailFromErr(c, xerr.Validation(map[string]string{"limit/offset": "must be integers"}))
		return
	}
	recs, err := h.svc.ListTransactions(c.Request.Context(), callerOf(c), c.Param("owner"), limit, offset)
	reply(c, recs, err)
}

func (h *handler) operation(c *gin.Context) {
	st, err := h.svc.GetOperationStatus(c.Request.Context(), callerOf(c), c.Param("handle"))
	reply(c, st, err)
}

func (h *handler) supportedAssets(c *gin.Context) {
	assets, err := h.svc.GetSupportedAssets(c.Request.Context())
	reply(c, assets, err)
}

func (h *handler) identity(c *gin.Context) {
	common.Success(c, h.svc.LedgerIdentity())
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
