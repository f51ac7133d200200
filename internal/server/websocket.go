package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"
)

// websocketHandler streams round events to a client and accepts bet/cashout
// commands over the same connection.
func (s *FiberServer) websocketHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id", "anonymous")

	client := s.hub.RegisterClient(conn, playerID)
	client.SendSnapshot(s.engine.CurrentRound())

	defer s.hub.UnregisterClient(client)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for player %s: %v", playerID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var clientMsg map[string]interface{}
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			continue
		}
		msgType, ok := clientMsg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "place_bet":
			amount, _ := strconv.ParseFloat(fmt.Sprintf("%v", clientMsg["usd_amount"]), 64)
			currency := fmt.Sprintf("%v", clientMsg["currency"])

			bet, err := s.engine.PlaceBet(context.Background(), playerID, amount, currency)
			writeResult(conn, "bet_result", bet, err)

		case "cashout":
			result, err := s.engine.CashOut(context.Background(), playerID)
			writeResult(conn, "cashout_result", result, err)

		case "ping":
			pong, _ := json.Marshal(map[string]string{"type": "pong"})
			conn.WriteMessage(websocket.TextMessage, pong)
		}
	}
}

func writeResult(conn *websocket.Conn, msgType string, data interface{}, err error) {
	resp := map[string]interface{}{"type": msgType}
	if err != nil {
		resp["success"] = false
		resp["error"] = err.Error()
	} else {
		resp["success"] = true
		resp["data"] = data
	}
	out, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, out)
}
