package private

type status struct {
	Status string `json:"status"`
}

type banRequest struct {
	IP     string `json:"ip" validate:"required,ip"`
	Reason string `json:"reason" validate:"max=256"`
}

type unbanRequest struct {
	IP string `json:"ip" validate:"omitempty,ip"`
}

type connectRequest struct {
	Address string `json:"address" validate:"required,hostname_port"`
}
