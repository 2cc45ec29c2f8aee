package car

import "encoding/json"

// SafetyModel names the safety gateway profile for a platform.
type SafetyModel string

const (
	SafetyNoOutput        SafetyModel = "noOutput"
	SafetyGM              SafetyModel = "gm"
	SafetySubaru          SafetyModel = "subaru"
	SafetySubaruPreglobal SafetyModel = "subaruPreglobal"
)

// SafetyConfig is one entry of the safety gateway configuration.
type SafetyConfig struct {
	Model SafetyModel `json:"safetyModel"`
	Param uint32      `json:"safetyParam"`
}

// NoOutputSafety is the only safety configuration published while passive.
var NoOutputSafety = []SafetyConfig{{Model: SafetyNoOutput}}

// NetworkLocation is where the bridge taps the vehicle network.
type NetworkLocation int

const (
	NetworkFwdCamera NetworkLocation = iota
	NetworkGateway
)

// TransmissionType is the drivetrain layout.
type TransmissionType int

const (
	TransmissionUnknown TransmissionType = iota
	TransmissionAutomatic
	TransmissionManual
	TransmissionDirect
)

// SteerControlType is how steering is commanded.
type SteerControlType int

const (
	SteerTorque SteerControlType = iota
	SteerAngle
)

// AlternativeExperience flags relax stock engagement behavior.
type AlternativeExperience uint32

const (
	DisableDisengageOnGas           AlternativeExperience = 1 << 0
	DisableStockAEB                 AlternativeExperience = 1 << 1
	RaiseLongitudinalLimitsToISOMax AlternativeExperience = 1 << 3
	AlwaysOnLateral                 AlternativeExperience = 1 << 4
)

// Has reports whether every flag in f is set.
func (a AlternativeExperience) Has(f AlternativeExperience) bool { return a&f == f }

// CarParams are the static vehicle parameters resolved once at startup.
type CarParams struct {
	CarName     string `json:"carName"`
	CarModel    string `json:"carFingerprint"`
	Flags       uint32 `json:"flags"`
	DashcamOnly bool   `json:"dashcamOnly"`
	Passive     bool   `json:"passive"`

	SafetyConfigs         []SafetyConfig        `json:"safetyConfigs"`
	AlternativeExperience AlternativeExperience `json:"alternativeExperience"`
	NetworkLocation       NetworkLocation       `json:"networkLocation"`
	TransmissionType      TransmissionType      `json:"transmissionType"`
	SteerControlType      SteerControlType      `json:"steerControlType"`

	OpenpilotLongitudinalControl      bool `json:"openpilotLongitudinalControl"`
	ExperimentalLongitudinalAvailable bool `json:"experimentalLongitudinalAvailable"`
	PCMCruise                         bool `json:"pcmCruise"`
	EnableBSM                         bool `json:"enableBsm"`
	EnableGasInterceptor              bool `json:"enableGasInterceptor"`
	RadarUnavailable                  bool `json:"radarUnavailable"`
	StoppingControl                   bool `json:"stoppingControl"`
	AutoResumeSng                     bool `json:"autoResumeSng"`

	SecOCRequired     bool `json:"secOcRequired"`
	SecOCKeyAvailable bool `json:"secOcKeyAvailable"`

	Mass               float64 `json:"mass"`
	Wheelbase          float64 `json:"wheelbase"`
	CenterToFront      float64 `json:"centerToFront"`
	SteerRatio         float64 `json:"steerRatio"`
	SteerActuatorDelay float64 `json:"steerActuatorDelay"`
	SteerLimitTimer    float64 `json:"steerLimitTimer"`
	WheelSpeedFactor   float64 `json:"wheelSpeedFactor"`
	MinEnableSpeed     float64 `json:"minEnableSpeed"`
	MinSteerSpeed      float64 `json:"minSteerSpeed"`
}

// HasFlag reports whether the platform flag bit f is set.
func (p CarParams) HasFlag(f uint32) bool { return p.Flags&f != 0 }

// MarshalBinary encodes the params for the params store.
func (p CarParams) MarshalBinary() ([]byte, error) { return json.Marshal(p) }

// UnmarshalBinary decodes params written by MarshalBinary.
func (p *CarParams) UnmarshalBinary(b []byte) error { return json.Unmarshal(b, p) }

// ExtendedParams are platform-family parameters outside CarParams.
type ExtendedParams struct {
	CanUsePedal bool `json:"canUsePedal"`
	CanUseSDGM  bool `json:"canUseSdgm"`
	IsHybrid    bool `json:"isHybrid"`
}
