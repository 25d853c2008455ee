package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"typed_kv_store/internal/codec"
	"typed_kv_store/internal/typedkv"
)

// WriteRequest carries the value to store. When Type is set, Value is taken
// as the data of a record with that tag, so that dates and big integers can
// be written over JSON.
type WriteRequest struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

type ReadResponse struct {
	Success bool   `json:"success"`
	Type    string `json:"type,omitempty"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

type WriteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ExistsResponse struct {
	Success bool   `json:"success"`
	Exists  bool   `json:"exists"`
	Error   string `json:"error,omitempty"`
}

type KeysResponse struct {
	Success bool     `json:"success"`
	Keys    []string `json:"keys"`
	Error   string   `json:"error,omitempty"`
}

type RestServer struct {
	engine *gin.Engine
	store  *typedkv.Store
}

func statusFor(err error) int {
	if errors.Is(err, typedkv.ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (server *RestServer) handleRead(ctx *gin.Context) {
	key := ctx.Param("key")

	ok, err := server.store.Has(key)
	if err != nil {
		ctx.JSON(statusFor(err), ReadResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, ReadResponse{
			Success: false,
			Error:   fmt.Sprintf("key not found: %s", key),
		})
		return
	}

	value, err := server.store.Get(key)
	if err != nil {
		ctx.JSON(statusFor(err), ReadResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, ReadResponse{
		Success: true,
		Type:    typeOf(value),
		Value:   value,
	})
}

// typeOf reports the stored tag, which for a falsy structured value is the
// one carried by the record Get returned in its place.
func typeOf(value any) string {
	if record, ok := value.(codec.Record); ok {
		return record.Type
	}
	return codec.TagOf(value)
}

func decodeWriteRequest(req WriteRequest) (any, error) {
	if req.Type == "" {
		return req.Value, nil
	}
	data, err := json.Marshal(req.Value)
	if err != nil {
		return nil, err
	}
	return codec.DecodeTagged(req.Type, data)
}

func (server *RestServer) handleWrite(ctx *gin.Context) {
	key := ctx.Param("key")

	var req WriteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, WriteResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}
	value, err := decodeWriteRequest(req)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, WriteResponse{
			Success: false,
			Error:   fmt.Sprintf("invalid %s value: %v", req.Type, err),
		})
		return
	}

	if err := server.store.Set(key, value); err != nil {
		ctx.JSON(statusFor(err), WriteResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, WriteResponse{
		Success: true,
	})
}

func (server *RestServer) handleDelete(ctx *gin.Context) {
	key := ctx.Params.ByName("key")

	if err := server.store.Delete(key); err != nil {
		ctx.JSON(statusFor(err), DeleteResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	ctx.JSON(http.StatusOK, DeleteResponse{
		Success: true,
	})
}

func (server *RestServer) handleExists(ctx *gin.Context) {
	ok, err := server.store.Has(ctx.Param("key"))
	if err != nil {
		ctx.JSON(statusFor(err), ExistsResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, ExistsResponse{
		Success: true,
		Exists:  ok,
	})
}

func (server *RestServer) handleKeys(ctx *gin.Context) {
	keys, err := server.store.Keys()
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, KeysResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	if keys == nil {
		keys = []string{}
	}
	ctx.JSON(http.StatusOK, KeysResponse{
		Success: true,
		Keys:    keys,
	})
}

// NewRestServer exposes store over HTTP. When relay is non-nil it is served
// at /api/hub so that other processes can share change notifications.
func NewRestServer(store *typedkv.Store, relay http.Handler) *RestServer {
	server := &RestServer{
		engine: gin.Default(),
		store:  store,
	}

	server.engine.GET("/api/data/:key", server.handleRead)
	server.engine.PUT("/api/data/:key", server.handleWrite)
	server.engine.DELETE("/api/data/:key", server.handleDelete)
	server.engine.GET("/api/data/:key/exists", server.handleExists)
	server.engine.GET("/api/keys", server.handleKeys)
	if relay != nil {
		server.engine.GET("/api/hub", gin.WrapH(relay))
	}

	return server
}

func (server *RestServer) Handler() http.Handler {
	return server.engine
}

func (server *RestServer) Run(addr string) error {
	return server.engine.Run(addr)
}
