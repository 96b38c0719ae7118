package memdx

import (
	"encoding/binary"
	"strings"
)

// HelloFeature represents a feature code included in a memcached
// HELLO operation.
type HelloFeature uint16

const (
	HelloFeatureDatatype     HelloFeature = 0x01
	HelloFeatureTLS          HelloFeature = 0x02
	HelloFeatureTCPNoDelay   HelloFeature = 0x03
	HelloFeatureSeqNo        HelloFeature = 0x04
	HelloFeatureXattr        HelloFeature = 0x06
	HelloFeatureXerror       HelloFeature = 0x07
	HelloFeatureSelectBucket HelloFeature = 0x08
	HelloFeatureSnappy       HelloFeature = 0x0a
	HelloFeatureJSON         HelloFeature = 0x0b
)

type OpsCore struct {
}

type HelloRequest struct {
	ClientName        []byte
	RequestedFeatures []HelloFeature
}

func (r HelloRequest) OpName() string { return OpCodeHello.String() }

type HelloResponse struct {
	EnabledFeatures []HelloFeature
}

func (o OpsCore) Hello(d Dispatcher, req *HelloRequest, cb func(*HelloResponse, error)) (PendingOp, error) {
	featureBytes := make([]byte, len(req.RequestedFeatures)*2)
	for featIdx, featCode := range req.RequestedFeatures {
		binary.BigEndian.PutUint16(featureBytes[featIdx*2:], uint16(featCode))
	}

	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeHello,
		Key:    req.ClientName,
		Value:  featureBytes,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		if len(resp.Value)%2 != 0 {
			cb(nil, protocolError{"invalid hello features length"})
			return false
		}

		features := make([]HelloFeature, len(resp.Value)/2)
		for featIdx := range features {
			features[featIdx] = HelloFeature(binary.BigEndian.Uint16(resp.Value[featIdx*2:]))
		}

		cb(&HelloResponse{
			EnabledFeatures: features,
		}, nil)
		return false
	})
}

type SASLListMechsRequest struct {
}

func (r SASLListMechsRequest) OpName() string { return OpCodeSASLListMechs.String() }

type SASLListMechsResponse struct {
	AvailableMechs []string
}

func (o OpsCore) SASLListMechs(d Dispatcher, req *SASLListMechsRequest, cb func(*SASLListMechsResponse, error)) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeSASLListMechs,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		mechsList := string(resp.Value)
		mechsArr := strings.Split(mechsList, " ")

		cb(&SASLListMechsResponse{
			AvailableMechs: mechsArr,
		}, nil)
		return false
	})
}

type SASLAuthRequest struct {
	Mechanism string
	Payload   []byte
}

func (r SASLAuthRequest) OpName() string { return OpCodeSASLAuth.String() }

type SASLAuthResponse struct {
	NeedsMoreSteps bool
	Payload        []byte
}

func (o OpsCore) SASLAuth(d Dispatcher, req *SASLAuthRequest, cb func(*SASLAuthResponse, error)) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeSASLAuth,
		Key:    []byte(req.Mechanism),
		Value:  req.Payload,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status == StatusAuthContinue {
			cb(&SASLAuthResponse{
				NeedsMoreSteps: true,
				Payload:        resp.Value,
			}, nil)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		cb(&SASLAuthResponse{
			NeedsMoreSteps: false,
			Payload:        resp.Value,
		}, nil)
		return false
	})
}

type SelectBucketRequest struct {
	BucketName string
}

func (r SelectBucketRequest) OpName() string { return OpCodeSelectBucket.String() }

func (o OpsCore) SelectBucket(d Dispatcher, req *SelectBucketRequest, cb func(error)) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeSelectBucket,
		Key:    []byte(req.BucketName),
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(decodeStatusError(resp))
			return false
		}

		cb(nil)
		return false
	})
}
