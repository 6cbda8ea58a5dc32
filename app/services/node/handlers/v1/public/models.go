package public

type nodeStatus struct {
	Network         string `json:"network"`
	InstanceID      string `json:"instance_id"`
	ListenAddr      string `json:"listen_addr"`
	Genesis         string `json:"genesis"`
	Height          uint64 `json:"height"`
	TipHash         string `json:"tip_hash"`
	AccumulatedWork uint64 `json:"accumulated_work"`
	PeerCount       int    `json:"peer_count"`
	Syncing         bool   `json:"syncing"`
	Mining          bool   `json:"mining"`
	Mempool         int    `json:"mempool"`
}
