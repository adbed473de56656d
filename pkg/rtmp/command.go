package rtmp

import "github.com/AgustinSRG/go-stream-toolkit/pkg/amf"

// Command is a decoded AMF0 command message: a name, a transaction id, a
// command object and a stream-name (when present), matching the fields
// the teacher's RTMPCommand exposes via GetArg (amf0.go/rtmp_session.go).
type Command struct {
	Name          string
	TransactionID int64
	CmdObject     *amf.Value
	StreamName    string
	Extra         []*amf.Value
}

// decodeCommand parses an AMF0 command message payload: [name, transId,
// cmdObj, ...extra] (spec §4.8 "Command messages (AMF0, type_id 20)").
func decodeCommand(payload []byte) (*Command, error) {
	values, err := amf.DecodeAll(payload)
	if err != nil || len(values) < 2 {
		return nil, amf.ErrMalformed
	}

	cmd := &Command{Name: values[0].GetString()}
	cmd.TransactionID = int64(values[1].GetDouble())

	if len(values) >= 3 {
		cmd.CmdObject = values[2]
	} else {
		cmd.CmdObject = amf.Null()
	}

	if len(values) >= 4 {
		cmd.StreamName = values[3].GetString()
		cmd.Extra = values[4:]
	}

	return cmd, nil
}

func encodeCommand(name string, transID int64, cmdObj *amf.Value, extra ...*amf.Value) []byte {
	var out []byte
	out = append(out, amf.Encode(amf.Str(name))...)
	out = append(out, amf.Encode(amf.Number(float64(transID)))...)
	if cmdObj == nil {
		cmdObj = amf.Null()
	}
	out = append(out, amf.Encode(cmdObj)...)
	for _, v := range extra {
		out = append(out, amf.Encode(v)...)
	}
	return out
}

// buildConnectResult is grounded on the teacher's RespondConnect
// (rtmp_session_utils.go): _result with FMS server info and
// NetConnection.Connect.Success.
func buildConnectResult(transID int64, objectEncoding float64, hasObjectEncoding bool) []byte {
	cmdObj := amf.Object(map[string]*amf.Value{
		"fmsVer":       amf.Str("FMS/3,0,1,123"),
		"capabilities": amf.Number(31),
	})

	infoFields := map[string]*amf.Value{
		"level":       amf.Str("status"),
		"code":        amf.Str("NetConnection.Connect.Success"),
		"description": amf.Str("Connection succeeded."),
	}
	if hasObjectEncoding {
		infoFields["objectEncoding"] = amf.Number(objectEncoding)
	} else {
		infoFields["objectEncoding"] = amf.Undefined()
	}
	info := amf.Object(infoFields)

	return encodeCommand("_result", transID, cmdObj, info)
}

// buildCreateStreamResult is grounded on RespondCreateStream.
func buildCreateStreamResult(transID int64, streamID int64) []byte {
	return encodeCommand("_result", transID, amf.Null(), amf.Number(float64(streamID)))
}

// buildOnStatus is grounded on SendStatusMessage: onStatus with a
// level/code/description info object.
func buildOnStatus(level string, code string, description string) []byte {
	fields := map[string]*amf.Value{
		"level": amf.Str(level),
		"code":  amf.Str(code),
	}
	if description != "" {
		fields["description"] = amf.Str(description)
	}
	info := amf.Object(fields)
	return encodeCommand("onStatus", 0, amf.Null(), info)
}

// buildSampleAccess is grounded on SendSampleAccess (|RtmpSampleAccess
// data message, not a command, but shares the two-bool shape).
func buildSampleAccess() []byte {
	var out []byte
	out = append(out, amf.Encode(amf.Str("|RtmpSampleAccess"))...)
	out = append(out, amf.Encode(amf.Bool(false))...)
	out = append(out, amf.Encode(amf.Bool(false))...)
	return out
}

// buildConnectCommand is grounded on the client-role choreography implied
// by spec §4.8 ("Client-side for publish/play advances: connect ->
// connect_resp -> ..."); the teacher is server-only, so the client command
// shape mirrors RespondConnect's cmdObj fields back as a request.
func buildConnectCommand(transID int64, app string, tcURL string, flashVer string) []byte {
	cmdObj := amf.Object(map[string]*amf.Value{
		"app":            amf.Str(app),
		"type":           amf.Str("nonprivate"),
		"flashVer":       amf.Str(flashVer),
		"tcUrl":          amf.Str(tcURL),
		"objectEncoding": amf.Number(0),
	})
	return encodeCommand("connect", transID, cmdObj)
}

func buildCreateStreamCommand(transID int64) []byte {
	return encodeCommand("createStream", transID, amf.Null())
}

func buildPublishCommand(transID int64, streamName string, publishType string) []byte {
	return encodeCommand("publish", transID, amf.Null(), amf.Str(streamName), amf.Str(publishType))
}

func buildPlayCommand(transID int64, streamName string) []byte {
	return encodeCommand("play", transID, amf.Null(), amf.Str(streamName))
}
