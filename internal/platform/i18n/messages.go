package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	apperrors "senryu/internal/platform/errors"
)

var messages = map[language.Tag]map[apperrors.Code]string{
	language.English: {
		apperrors.CodeUnknown:         "Something went wrong. Please try again.",
		apperrors.CodeNotFound:        "Room not found.",
		apperrors.CodeUnauthorized:    "You are not allowed to do that.",
		apperrors.CodeInvalidState:    "That action is not available right now.",
		apperrors.CodeInvalidArgument: "The request is invalid.",
		apperrors.CodeLockConflict:    "Someone else is already moving the game forward. Refresh and try again.",
		apperrors.CodeMalformedState:  "Something went wrong. Please try again.",
		apperrors.CodeStoreFailure:    "Something went wrong. Please try again.",
		apperrors.CodeRateLimited:     "Too many requests. Please slow down.",
	},
	language.Japanese: {
		apperrors.CodeUnknown:         "エラーが発生しました。もう一度お試しください。",
		apperrors.CodeNotFound:        "ルームが見つかりません。",
		apperrors.CodeUnauthorized:    "この操作を行う権限がありません。",
		apperrors.CodeInvalidState:    "現在その操作はできません。",
		apperrors.CodeInvalidArgument: "リクエストの内容が正しくありません。",
		apperrors.CodeLockConflict:    "他の参加者がすでに進行操作中です。画面を更新してからもう一度お試しください。",
		apperrors.CodeMalformedState:  "エラーが発生しました。もう一度お試しください。",
		apperrors.CodeStoreFailure:    "エラーが発生しました。もう一度お試しください。",
		apperrors.CodeRateLimited:     "リクエストが多すぎます。少し待ってからお試しください。",
	},
}

func init() {
	for tag, byCode := range messages {
		for code, text := range byCode {
			_ = message.SetString(tag, string(code), text)
		}
	}
}
