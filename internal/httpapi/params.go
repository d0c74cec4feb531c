package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/pkg/protocol"
)

// paramSpec describes one named field under
// /devices/{d}/rooms/{r}/{param}: how to read it from the shadow and,
// for writeable params, which SET message commands it.
type paramSpec struct {
	writeable bool
	msgID     protocol.MsgID
	get       func(r *shadow.Room) any
}

// roomParams is the table behind spec §6's GET/PUT param routes.
var roomParams = map[string]paramSpec{
	"t1":              {writeable: true, msgID: protocol.MsgSetT1, get: func(r *shadow.Room) any { return r.T1 }},
	"t2":              {writeable: true, msgID: protocol.MsgSetT2, get: func(r *shadow.Room) any { return r.T2 }},
	"t3":              {writeable: true, msgID: protocol.MsgSetT3, get: func(r *shadow.Room) any { return r.T3 }},
	"tempcurve":       {writeable: true, msgID: protocol.MsgSetCurve, get: func(r *shadow.Room) any { return r.TempCurve }},
	"minsetp":         {writeable: true, msgID: protocol.MsgSetMinHeatSetp, get: func(r *shadow.Room) any { return r.MinSetpoint }},
	"maxsetp":         {writeable: true, msgID: protocol.MsgSetMaxHeatSetp, get: func(r *shadow.Room) any { return r.MaxSetpoint }},
	"units":           {writeable: true, msgID: protocol.MsgSetUnits, get: func(r *shadow.Room) any { return r.Units }},
	"winter":          {writeable: true, msgID: protocol.MsgSetSeason, get: func(r *shadow.Room) any { return r.Winter }},
	"sensorinfluence": {writeable: true, msgID: protocol.MsgSetSensorInfluence, get: func(r *shadow.Room) any { return r.SensorInfluence }},
	"advance":         {writeable: true, msgID: protocol.MsgSetAdvance, get: func(r *shadow.Room) any { return r.Advance }},
	"mode":            {writeable: true, msgID: protocol.MsgSetMode, get: func(r *shadow.Room) any { return r.Mode }},

	"boost":     {get: func(r *shadow.Room) any { return r.Boost }},
	"temp":      {get: func(r *shadow.Room) any { return r.Temp }},
	"settemp":   {get: func(r *shadow.Room) any { return r.SetTemp }},
	"cmdissued": {get: func(r *shadow.Room) any { return r.CmdIssued }},
}

func (s *Server) getRoomParam(p paramSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID, ok := deviceIDFromPath(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid device id")
			return
		}
		roomID, ok := roomIDFromPath(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid room id")
			return
		}
		room, ok := s.store.Room(deviceID, roomID)
		if !ok {
			writeMessage(w, http.StatusNotFound, "unknown room")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": p.get(room)})
	}
}

func readBodyInt(r *http.Request) (int64, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 32)
}

func (s *Server) putRoomParam(name string, p paramSpec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID, ok := deviceIDFromPath(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid device id")
			return
		}
		roomID, ok := roomIDFromPath(r)
		if !ok {
			writeMessage(w, http.StatusBadRequest, "invalid room id")
			return
		}

		value, err := readBodyInt(r)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "ERROR")
			return
		}

		result, err := s.sender.Set(deviceID, roomID, p.msgID, int16(value), WriteTimeout)
		if err != nil {
			s.logger.Warn("set failed", zap.String("param", name), zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "ERROR")
			return
		}

		got, ok := result.(int16)
		if !ok || got != int16(value) {
			writeMessage(w, http.StatusInternalServerError, "ERROR")
			return
		}
		writeMessage(w, http.StatusOK, "OK")
	}
}

func (s *Server) getDays(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return
	}
	room, ok := s.store.Room(deviceID, roomID)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown room")
		return
	}
	writeJSON(w, http.StatusOK, room.Days)
}

func (s *Server) getDay(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return
	}
	day, err := strconv.ParseUint(chi.URLParam(r, "day"), 10, 16)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid day")
		return
	}
	room, ok := s.store.Room(deviceID, roomID)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown room")
		return
	}
	schedule, ok := room.Days[uint16(day)]
	if !ok {
		writeMessage(w, http.StatusNotFound, "day not yet known")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) putDays(w http.ResponseWriter, r *http.Request) {
	s.putProgram(w, r, -1)
}

func (s *Server) putDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.ParseUint(chi.URLParam(r, "day"), 10, 16)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid day")
		return
	}
	s.putProgram(w, r, int(day))
}

// putProgram handles a PUT of one day's 24-hour schedule; day == -1
// means the day number must come from the JSON body itself (the
// "/days" bulk route), otherwise it's fixed by the URL.
func (s *Server) putProgram(w http.ResponseWriter, r *http.Request, day int) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return
	}

	var payload struct {
		Day      *uint16                      `json:"day"`
		Schedule [protocol.ProgramDaySize]byte `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "ERROR")
		return
	}

	d := uint16(day)
	if day < 0 {
		if payload.Day == nil {
			writeMessage(w, http.StatusBadRequest, "missing day")
			return
		}
		d = *payload.Day
	}

	if _, err := s.sender.Program(deviceID, roomID, d, payload.Schedule, WriteTimeout); err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeMessage(w, http.StatusOK, "OK")
}

func (s *Server) getTime(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	dev, ok := s.store.Device(deviceID)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastseen": dev.LastSeen})
}

func (s *Server) putTime(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	value, err := readBodyInt(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "ERROR")
		return
	}
	if err := s.sender.DeviceTime(deviceID, byte(value), 0); err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeMessage(w, http.StatusOK, "OK")
}

func (s *Server) putOutsideTemp(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	value, err := readBodyInt(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "ERROR")
		return
	}
	if err := s.sender.OutsideTemp(deviceID, byte(value)); err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeMessage(w, http.StatusOK, "OK")
}
