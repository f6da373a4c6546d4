package media

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	webrtc "github.com/pion/webrtc/v4"
)

var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher turns local media publishing on and off.
type Publisher interface {
	SetEnabled(enabled bool) error
	Enabled() bool
	Close() error
}

// AudioPublisher owns the local microphone sender of a peer connection.
// Disabling detaches the track from the sender, so the transceiver and its
// negotiation survive a mute.
type AudioPublisher struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	track          *webrtc.TrackLocalStaticSample
	sender         *webrtc.RTPSender
	enabled        bool
	closed         bool
	logger         *slog.Logger
}

var _ Publisher = (*AudioPublisher)(nil)

// NewAPI builds the webrtc API with the default codecs and interceptors.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	), nil
}

type NewAudioPublisherParams struct {
	API      *webrtc.API
	StreamID string
	Logger   *slog.Logger
}

func NewAudioPublisher(params NewAudioPublisherParams) (*AudioPublisher, error) {
	api := params.API
	if api == nil {
		var err error
		if api, err = NewAPI(); err != nil {
			return nil, err
		}
	}
	streamID := params.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"microphone",
		streamID,
	)
	if err != nil {
		return nil, errors.Join(err, peerConnection.Close())
	}

	transceiver, err := peerConnection.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, errors.Join(err, peerConnection.Close())
	}

	return &AudioPublisher{
		peerConnection: peerConnection,
		track:          track,
		sender:         transceiver.Sender(),
		logger:         logger,
	}, nil
}

// PeerConnection exposes the connection for signaling.
func (p *AudioPublisher) PeerConnection() *webrtc.PeerConnection {
	return p.peerConnection
}

// Track is where captured audio samples are written.
func (p *AudioPublisher) Track() *webrtc.TrackLocalStaticSample {
	return p.track
}

func (p *AudioPublisher) SetEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.enabled == enabled {
		return nil
	}

	var err error
	if enabled {
		err = p.sender.ReplaceTrack(p.track)
	} else {
		err = p.sender.ReplaceTrack(nil)
	}
	if err != nil {
		return err
	}

	p.enabled = enabled
	p.logger.Info("local microphone publish changed", slog.Bool("enabled", enabled))
	return nil
}

func (p *AudioPublisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *AudioPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.enabled = false
	return p.peerConnection.Close()
}

// NopPublisher only remembers the requested state. Used when no media stack is
// wired, e.g. by headless agents.
type NopPublisher struct {
	mu      sync.Mutex
	enabled bool
}

func (p *NopPublisher) SetEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	return nil
}

func (p *NopPublisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *NopPublisher) Close() error {
	return nil
}
