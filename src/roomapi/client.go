package roomapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bluele/gcache"
	"github.com/hr3lxphr6j/requests"
	"github.com/tidwall/gjson"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/danmaku"
	"github.com/bililive-go/bililive-monitor/src/types"
)

const (
	roomPlayInfoUrl = "https://api.live.bilibili.com/xlive/web-room/v2/index/getRoomPlayInfo"
	roomInfoUrl     = "https://api.live.bilibili.com/room/v1/Room/get_info"
	masterInfoUrl   = "https://api.live.bilibili.com/live_user/v1/Master/info"
	fansMedalUrl    = "https://api.live.bilibili.com/xlive/app-ucenter/v1/fansMedal/fans"
	guardTopListUrl = "https://api.live.bilibili.com/xlive/app-room/v2/guardTab/topList"
	danmuInfoUrl    = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"

	webAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/59.0.3071.115 Safari/537.36"

	roomInfoCacheTTL = 30 * time.Second
)

var commonUserAgent = requests.UserAgent(webAgent)

var (
	// ErrRoomNotExist 直播间不存在
	ErrRoomNotExist = errors.New("room not exist")
	// ErrBadResponse 平台接口返回异常
	ErrBadResponse = errors.New("bad response from api")
)

// PlayInfo 房间基本播放信息
type PlayInfo struct {
	RealID     types.RoomID
	UID        int64
	LiveStatus int
	LiveTime   int64 // 开播时刻 unix 秒，未开播为 0
}

// RoomInfo 直播间展示信息
type RoomInfo struct {
	Title     string
	Cover     string
	Uname     string
	Attention int64
}

// API 平台元信息接口，弹幕客户端的配置来源也由它提供
type API interface {
	danmaku.ConfProvider

	GetRoomPlayInfo(ctx context.Context, roomID types.RoomID) (*PlayInfo, error)
	GetRoomInfo(ctx context.Context, roomID types.RoomID) (*RoomInfo, error)
	// GetFansMedalCount 粉丝勋章数，失败返回 -1
	GetFansMedalCount(ctx context.Context, uid int64) int64
	// GetGuardNum 大航海人数，失败返回 -1
	GetGuardNum(ctx context.Context, roomID types.RoomID, uid int64) int64
}

// Client 基于平台 Web 接口的 API 实现
type Client struct {
	session    *requests.Session
	cache      gcache.Cache
	credential configs.Credential
}

func NewClient(credential configs.Credential) *Client {
	return &Client{
		session:    requests.NewSession(http.DefaultClient),
		cache:      gcache.New(128).LRU().Build(),
		credential: credential,
	}
}

func (c *Client) cookies() requests.RequestOption {
	kvs := make(map[string]string)
	if c.credential.SessData != "" {
		kvs["SESSDATA"] = c.credential.SessData
	}
	if c.credential.BiliJct != "" {
		kvs["bili_jct"] = c.credential.BiliJct
	}
	if c.credential.Buvid3 != "" {
		kvs["buvid3"] = c.credential.Buvid3
	}
	return requests.Cookies(kvs)
}

// get 请求并校验业务码，返回 data 节点
func (c *Client) get(url string, options ...requests.RequestOption) (*gjson.Result, error) {
	options = append(options, commonUserAgent, c.cookies())
	resp, err := c.session.Get(url, options...)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(body, "code").Int(); code != 0 {
		return nil, fmt.Errorf("%w: code %d, message %s",
			ErrBadResponse, code, gjson.GetBytes(body, "message").String())
	}
	data := gjson.GetBytes(body, "data")
	return &data, nil
}

func (c *Client) GetRoomPlayInfo(ctx context.Context, roomID types.RoomID) (*PlayInfo, error) {
	data, err := c.get(roomPlayInfoUrl, requests.Query("room_id", strconv.FormatInt(int64(roomID), 10)))
	if err != nil {
		return nil, err
	}
	realID := data.Get("room_id").Int()
	if realID == 0 {
		return nil, ErrRoomNotExist
	}
	return &PlayInfo{
		RealID:     types.RoomID(realID),
		UID:        data.Get("uid").Int(),
		LiveStatus: int(data.Get("live_status").Int()),
		LiveTime:   data.Get("live_time").Int(),
	}, nil
}

func (c *Client) GetRoomInfo(ctx context.Context, roomID types.RoomID) (*RoomInfo, error) {
	key := fmt.Sprintf("room_info:%d", roomID)
	if cached, err := c.cache.Get(key); err == nil {
		return cached.(*RoomInfo), nil
	}

	data, err := c.get(roomInfoUrl, requests.Query("room_id", strconv.FormatInt(int64(roomID), 10)))
	if err != nil {
		return nil, err
	}
	info := &RoomInfo{
		Title:     data.Get("title").String(),
		Cover:     data.Get("user_cover").String(),
		Attention: data.Get("attention").Int(),
	}
	if uid := data.Get("uid").Int(); uid != 0 {
		if master, err := c.get(masterInfoUrl, requests.Query("uid", strconv.FormatInt(uid, 10))); err == nil {
			info.Uname = master.Get("info.uname").String()
		}
	}
	_ = c.cache.SetWithExpire(key, info, roomInfoCacheTTL)
	return info, nil
}

func (c *Client) GetFansMedalCount(ctx context.Context, uid int64) int64 {
	data, err := c.get(fansMedalUrl,
		requests.Query("target_id", strconv.FormatInt(uid, 10)),
		requests.Query("page_size", "1"),
	)
	if err != nil {
		return -1
	}
	if count := data.Get("count").Int(); count > 0 {
		return count
	}
	return data.Get("total_number").Int()
}

func (c *Client) GetGuardNum(ctx context.Context, roomID types.RoomID, uid int64) int64 {
	data, err := c.get(guardTopListUrl,
		requests.Query("roomid", strconv.FormatInt(int64(roomID), 10)),
		requests.Query("ruid", strconv.FormatInt(uid, 10)),
		requests.Query("page", "1"),
		requests.Query("page_size", "1"),
	)
	if err != nil {
		return -1
	}
	return data.Get("info.num").Int()
}

// realRoomID 短号解析为真实房间号，结果长期缓存
func (c *Client) realRoomID(ctx context.Context, roomID types.RoomID) (types.RoomID, error) {
	key := fmt.Sprintf("real_id:%d", roomID)
	if cached, err := c.cache.Get(key); err == nil {
		return cached.(types.RoomID), nil
	}
	info, err := c.GetRoomPlayInfo(ctx, roomID)
	if err != nil {
		return 0, err
	}
	_ = c.cache.Set(key, info.RealID)
	return info.RealID, nil
}

// GetChatConf 弹幕服务器地址与接入令牌，按真实房间号查询
func (c *Client) GetChatConf(ctx context.Context, roomID types.RoomID) (*danmaku.ChatConf, error) {
	realID, err := c.realRoomID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	data, err := c.get(danmuInfoUrl,
		requests.Query("id", strconv.FormatInt(int64(realID), 10)),
		requests.Query("type", "0"),
	)
	if err != nil {
		return nil, err
	}
	conf := &danmaku.ChatConf{Token: data.Get("token").String()}
	for _, h := range data.Get("host_list").Array() {
		conf.Hosts = append(conf.Hosts, danmaku.ChatHost{
			Host:    h.Get("host").String(),
			WssPort: int(h.Get("wss_port").Int()),
		})
	}
	if len(conf.Hosts) == 0 {
		return nil, fmt.Errorf("%w: empty host list", ErrBadResponse)
	}
	return conf, nil
}
