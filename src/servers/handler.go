package servers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bililive-go/bililive-monitor/src/consts"
	"github.com/bililive-go/bililive-monitor/src/instance"
	"github.com/bililive-go/bililive-monitor/src/storage"
	"github.com/bililive-go/bililive-monitor/src/types"
)

func getInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.AppInfo(os.Getpid()))
}

func getRooms(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	subs, err := inst.MonitorManager.ListRooms(r.Context())
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusInternalServerError, commonResp{
			ErrNo:  http.StatusInternalServerError,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, subs)
}

// addRoomReq 订阅请求体
type addRoomReq struct {
	RoomID      types.RoomID     `json:"room_id"`
	TargetID    string           `json:"target_id"`
	Kind        types.TargetKind `json:"kind"`
	NotifyStart *bool            `json:"notify_start"`
	NotifyEnd   *bool            `json:"notify_end"`
	Report      *bool            `json:"report"`
}

func addRoom(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	var req addRoomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}
	if req.RoomID <= 0 || req.TargetID == "" || !req.Kind.Valid() {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: "room_id, target_id and kind are required",
		})
		return
	}

	// 开关缺省全开
	target := storage.Target{
		ID:          req.TargetID,
		Kind:        req.Kind,
		NotifyStart: req.NotifyStart == nil || *req.NotifyStart,
		NotifyEnd:   req.NotifyEnd == nil || *req.NotifyEnd,
		Report:      req.Report == nil || *req.Report,
	}
	if err := inst.MonitorManager.AddRoom(r.Context(), req.RoomID, target); err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func parseRoomID(r *http.Request) (types.RoomID, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id: %s", mux.Vars(r)["id"])
	}
	return types.RoomID(id), nil
}

func removeRoom(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	roomID, err := parseRoomID(r)
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}
	if err := inst.MonitorManager.RemoveRoom(r.Context(), roomID); err != nil {
		code := http.StatusBadRequest
		if err == storage.ErrRoomNotFound {
			code = http.StatusNotFound
		}
		writeJsonWithStatusCode(writer, code, commonResp{
			ErrNo:  code,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func removeTarget(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	roomID, err := parseRoomID(r)
	if err != nil {
		writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
			ErrNo:  http.StatusBadRequest,
			ErrMsg: err.Error(),
		})
		return
	}
	pruned, err := inst.MonitorManager.RemoveTarget(r.Context(), roomID, mux.Vars(r)["tid"])
	if err != nil {
		code := http.StatusBadRequest
		if err == storage.ErrTargetNotFound || err == storage.ErrRoomNotFound {
			code = http.StatusNotFound
		}
		writeJsonWithStatusCode(writer, code, commonResp{
			ErrNo:  code,
			ErrMsg: err.Error(),
		})
		return
	}
	writeJSON(writer, commonResp{Data: map[string]interface{}{
		"removed": true,
		"pruned":  pruned,
	}})
}

func getStatus(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	writeJSON(writer, inst.MonitorManager.Status(r.Context()))
}

type commonResp struct {
	ErrNo  int         `json:"err_no"`
	ErrMsg string      `json:"err_msg"`
	Data   interface{} `json:"data"`
}

func writeJSON(writer http.ResponseWriter, data interface{}) {
	writeJsonWithStatusCode(writer, http.StatusOK, data)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, code int, data interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	if err := json.NewEncoder(writer).Encode(data); err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}
