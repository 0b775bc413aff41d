package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"auction-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type deliverRequest struct {
	Code string `json:"code"`
}

func auctionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid auction id")
		return 0, false
	}
	return id, true
}

// bindJSON decodes the body into req. An empty body is accepted when
// optional is set.
func bindJSON(c *gin.Context, req interface{}, optional bool) bool {
	err := c.ShouldBindJSON(req)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	badRequest(c, "invalid request body: "+err.Error())
	return false
}

// createAuction handles auction listing
func (h *Handler) createAuction(c *gin.Context) {
	var req service.CreateAuctionRequest
	if !bindJSON(c, &req, false) {
		return
	}

	auction, err := h.auctions.CreateAuction(c.Request.Context(), callerOf(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, auction)
}

// listActive returns active and scheduled auctions
func (h *Handler) listActive(c *gin.Context) {
	views, err := h.auctions.ListOpen(c.Request.Context(), c.Query("currency"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": views})
}

// listMine returns the calling farmer's auctions
func (h *Handler) listMine(c *gin.Context) {
	mine, err := h.auctions.ListMine(c.Request.Context(), callerOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mine)
}

func (h *Handler) getAuction(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	auction, err := h.auctions.GetAuction(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

func (h *Handler) deleteAuction(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	if err := h.auctions.DeleteAuction(c.Request.Context(), callerOf(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listBids(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	bids, err := h.auctions.Bids(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction_id": id, "bids": bids})
}

// placeBid handles bid submission
func (h *Handler) placeBid(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req placeBidRequest
	if !bindJSON(c, &req, false) {
		return
	}

	result, err := h.bidding.PlaceBid(c.Request.Context(), callerOf(c), id, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) getTracking(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	tracking, err := h.auctions.Tracking(c.Request.Context(), callerOf(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

func (h *Handler) pay(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req service.PayRequest
	if !bindJSON(c, &req, false) {
		return
	}

	auction, err := h.postSale.Pay(c.Request.Context(), callerOf(c), id, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

func (h *Handler) assignAgent(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req service.AssignAgentRequest
	if !bindJSON(c, &req, false) {
		return
	}

	auction, err := h.postSale.AssignAgent(c.Request.Context(), callerOf(c), id, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

func (h *Handler) ship(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req shipRequest
	if !bindJSON(c, &req, true) {
		return
	}

	auction, err := h.postSale.Ship(c.Request.Context(), callerOf(c), id, req.TrackingNumber)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

func (h *Handler) confirmReceipt(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req commentRequest
	if !bindJSON(c, &req, true) {
		return
	}

	auction, err := h.postSale.ConfirmReceipt(c.Request.Context(), callerOf(c), id, req.Comment)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

func (h *Handler) transferAgent(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req service.TransferRequest
	if !bindJSON(c, &req, false) {
		return
	}

	auction, err := h.postSale.TransferAgent(c.Request.Context(), callerOf(c), id, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}

// issueDeliveryCode sends a fresh code to the buyer; the agent only learns when it expires
func (h *Handler) issueDeliveryCode(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	issued, err := h.postSale.IssueDeliveryCode(c.Request.Context(), callerOf(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, issued)
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	id, ok := auctionID(c)
	if !ok {
		return
	}
	var req deliverRequest
	if !bindJSON(c, &req, true) {
		return
	}

	auction, err := h.postSale.ConfirmDelivery(c.Request.Context(), callerOf(c), id, req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, auction)
}
