package vaccount

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"donation-core/internal/event"
	"donation-core/internal/service/mq"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
)

// Subscriber 从 MQ 接收银行入账通知 (Kafka 或 Redis Streams)
type Subscriber struct {
	consumer mq.Consumer
	monitor  *Monitor
	topic    string
}

func NewSubscriber(consumer mq.Consumer, monitor *Monitor, topic string) *Subscriber {
	if topic == "" {
		topic = event.TopicBankDepositsDefault
	}
	return &Subscriber{consumer: consumer, monitor: monitor, topic: topic}
}

// Start 阻塞直到 ctx 取消 (Redis) 或订阅建立 (Kafka)
func (s *Subscriber) Start(ctx context.Context) error {
	logger.Info("开始订阅入账通知", zap.String("topic", s.topic))
	return s.consumer.Subscribe(ctx, s.topic, func(msg *mq.Message) error {
		return s.Handle(ctx, msg)
	})
}

// Handle 报文格式错误上报人工后确认，其余错误返回给 MQ 重投
func (s *Subscriber) Handle(ctx context.Context, msg *mq.Message) error {
	dep, err := DecodeBankDeposit(msg.Payload)
	var res *Result
	if err == nil {
		res, err = s.monitor.Ingest(ctx, dep)
	}
	if err != nil {
		if errors.Is(err, errno.ErrValidation) {
			logger.Error("入账报文无法入账，转人工", zap.String("msg_id", msg.ID), zap.Error(err))
			// 告警写不进去就让 MQ 重投，报文不能悄悄丢掉
			return s.monitor.Reject(ctx, "mq:"+s.topic, msg.Payload, err)
		}
		return err
	}
	logger.Debug("入账报文已处理", zap.String("transaction_id", dep.TransactionID), zap.String("outcome", string(res.Outcome)))
	return nil
}

// DecodeBankDeposit 把 MQ 报文转成 Deposit
func DecodeBankDeposit(payload []byte) (Deposit, error) {
	var ev event.BankDepositEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Deposit{}, errno.ErrValidation.WithMessage("malformed deposit payload: " + err.Error())
	}

	amount, err := AmountFromDecimal(ev.Amount)
	if err != nil {
		return Deposit{}, err
	}

	dep := Deposit{
		NgoID:         ev.NgoID,
		AccountNumber: ev.AccountNumber,
		Amount:        amount,
		TransactionID: ev.TransactionID,
		DepositorName: ev.DepositorName,
		Raw:           payload,
	}
	if ev.DepositDateTime != "" {
		t, err := time.Parse(time.RFC3339, ev.DepositDateTime)
		if err != nil {
			return Deposit{}, errno.ErrValidation.WithMessage("depositDateTime must be RFC3339: " + ev.DepositDateTime)
		}
		dep.DepositDateTime = t
	}
	return dep, nil
}
